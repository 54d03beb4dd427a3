// Package tui is the live service monitor behind `quartz top`.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quartzwm/quartz/internal/ipc"
	"github.com/quartzwm/quartz/internal/wire"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	toastStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

const pollInterval = time.Second

type tickMsg time.Time

type snapshotMsg struct {
	status  *wire.StatusData
	windows []wire.WindowInfo
	err     error
}

// model is the root bubbletea model for the monitor.
type model struct {
	socketPath string

	status  *wire.StatusData
	windows []wire.WindowInfo
	lastErr error

	width  int
	height int
}

// Run opens the monitor until the user quits.
func Run(socketPath string) error {
	p := tea.NewProgram(model{socketPath: socketPath}, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// poll fetches a status snapshot off the UI goroutine.
func (m model) poll() tea.Cmd {
	socketPath := m.socketPath
	return func() tea.Msg {
		cc, err := ipc.DialControl(socketPath)
		if err != nil {
			return snapshotMsg{err: err}
		}
		defer cc.Close()

		status, err := cc.GetStatus()
		if err != nil {
			return snapshotMsg{err: err}
		}
		windows, err := cc.ListWindows()
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{status: status, windows: windows}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tea.Batch(m.poll(), tick())
	case snapshotMsg:
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.lastErr = nil
			m.status = msg.status
			m.windows = msg.windows
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("quartz service monitor"))
	b.WriteString("\n\n")

	if m.lastErr != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("service unreachable: %v", m.lastErr)))
		b.WriteString("\n\n")
	}
	if m.status == nil {
		b.WriteString(labelStyle.Render("waiting for first snapshot..."))
		b.WriteString("\n\n")
		b.WriteString(labelStyle.Render("q quit · r refresh"))
		return b.String()
	}

	s := m.status
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	row("display", fmt.Sprintf("%dx%d @ %dHz", s.Display.Width, s.Display.Height, s.Display.RefreshHz))
	row("uptime", (time.Duration(s.UptimeSeconds) * time.Second).String())
	row("windows", fmt.Sprintf("%d / %d", s.WindowCount, s.WindowLimit))
	row("tokens", fmt.Sprintf("%d", s.TokenCount))
	row("monitors", fmt.Sprintf("%d", s.MonitorCount))
	row("vsync", onOff(s.VsyncActive))
	row("frames", fmt.Sprintf("%d", s.FramesDrawn))
	if s.LastToast != "" {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", "toast")))
		b.WriteString(toastStyle.Render(s.LastToast))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s %-10s %-12s %-4s %-4s %-9s %6s",
		"WINDOW", "TOKEN", "SIZE", "VIS", "SRF", "VSYNC", "SEQ")))
	b.WriteString("\n")
	for _, w := range m.windows {
		b.WriteString(valueStyle.Render(fmt.Sprintf("%-10s %-10s %-12s %-4s %-4s %-9s %6d",
			short(w.Window), short(w.Token),
			fmt.Sprintf("%dx%d", w.Params.Width, w.Params.Height),
			yesNo(w.Visible), yesNo(w.HasSurface), w.Vsync.String(), w.FrameSeq)))
		b.WriteString("\n")
	}
	if len(m.windows) == 0 {
		b.WriteString(labelStyle.Render("no windows"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("q quit · r refresh"))
	return b.String()
}

func short(h wire.Handle) string {
	s := string(h)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func onOff(v bool) string {
	if v {
		return "active"
	}
	return "idle"
}
