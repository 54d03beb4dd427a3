// Package server implements the authoritative side of the window system:
// the token/window graph, the vsync-driven frame protocol and the
// composition pass consuming queued buffers.
package server

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quartzwm/quartz/internal/buffer"
	"github.com/quartzwm/quartz/internal/config"
	"github.com/quartzwm/quartz/internal/display"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/ipc"
	"github.com/quartzwm/quartz/internal/looper"
	"github.com/quartzwm/quartz/internal/runtimepath"
	"github.com/quartzwm/quartz/internal/wire"
)

// ToastFunc surfaces a user-visible notification. The default
// implementation logs it and exposes it on the status snapshot.
type ToastFunc func(text string)

type monitorEntry struct {
	name    string
	channel *input.Channel
	conn    *ipc.ClientConn
}

// Service is the window manager service. Every method below the IPC
// handler runs on the service loop goroutine.
type Service struct {
	cfg   *config.Config
	loop  *looper.Looper
	root  *RootContainer
	alloc *buffer.Allocator

	windows map[wire.Handle]*WindowState
	// order is the z-order: insertion order, bottom to top. The
	// composition pass and input hit tests walk it.
	order    []*WindowState
	tokens   map[wire.Handle]*WindowToken
	monitors map[wire.Handle]*monitorEntry

	startTime   time.Time
	framesDrawn int64
	lastToast   string
	toast       ToastFunc
}

// New builds the service on top of a display backend. The caller runs the
// loop and the IPC server.
func New(cfg *config.Config, backend display.Backend, loop *looper.Looper) *Service {
	s := &Service{
		cfg:  cfg,
		loop: loop,
		alloc: &buffer.Allocator{
			ByName:      cfg.BufferQueueByName,
			GraphicsDir: cfg.GraphicsDir,
		},
		windows:   make(map[wire.Handle]*WindowState),
		tokens:    make(map[wire.Handle]*WindowToken),
		monitors:  make(map[wire.Handle]*monitorEntry),
		startTime: time.Now(),
	}
	s.toast = func(text string) {
		s.lastToast = text
		logrus.WithField("toast", text).Warn("toast")
	}
	s.root = newRootContainer(s, backend)
	logrus.WithFields(logrus.Fields{
		"backend": cfg.DisplayBackend,
		"sync":    cfg.DisplaySyncMode,
		"limit":   cfg.WindowLimitMax,
	}).Info("window manager service up")
	return s
}

// SetToast replaces the toast sink.
func (s *Service) SetToast(fn ToastFunc) { s.toast = fn }

// Close tears the compositor down.
func (s *Service) Close() { s.root.close() }

// HandleRequest dispatches one decoded client request. Runs on the loop.
func (s *Service) HandleRequest(client *ipc.ClientConn, msg *wire.Message, fds []int) {
	// Clients never attach descriptors; drop any that arrive.
	for _, fd := range fds {
		unix.Close(fd)
	}

	switch msg.Method {
	case wire.MethodGetDisplayInfo:
		s.handleGetDisplayInfo(client, msg)
	case wire.MethodAddWindowToken:
		s.handleAddWindowToken(client, msg)
	case wire.MethodRemoveWindowToken:
		s.handleRemoveWindowToken(client, msg)
	case wire.MethodIsWindowToken:
		s.handleIsWindowToken(client, msg)
	case wire.MethodUpdateTokenVisible:
		s.handleUpdateTokenVisibility(client, msg)
	case wire.MethodAddWindow:
		s.handleAddWindow(client, msg)
	case wire.MethodRemoveWindow:
		s.handleRemoveWindow(client, msg)
	case wire.MethodRelayout:
		s.handleRelayout(client, msg)
	case wire.MethodRequestVsync:
		s.handleRequestVsync(client, msg)
	case wire.MethodApplyTransaction:
		s.handleApplyTransaction(client, msg)
	case wire.MethodMonitorInput:
		s.handleMonitorInput(client, msg)
	case wire.MethodReleaseInput:
		s.handleReleaseInput(client, msg)
	case wire.MethodGetStatus:
		s.handleGetStatus(client, msg)
	case wire.MethodListWindows:
		s.handleListWindows(client, msg)
	case wire.MethodListTokens:
		s.handleListTokens(client, msg)
	default:
		client.Reply(msg.Seq, wire.StatusInvalidRequest,
			fmt.Sprintf("unknown method %q", msg.Method), nil, nil)
	}
}

// ClientDisconnected is the death recipient: every token, window and
// monitor owned by the connection is torn down. Runs on the loop.
func (s *Service) ClientDisconnected(client *ipc.ClientConn) {
	logrus.WithField("pid", client.Pid()).Info("client died, cascading teardown")

	for _, win := range s.snapshotOrder() {
		if win.conn == client {
			s.destroyWindow(win)
		}
	}
	for handle, token := range s.tokens {
		if token.owner == client {
			token.removeAllWindowsIfPossible(s)
			delete(s.tokens, handle)
		}
	}
	for handle, mon := range s.monitors {
		if mon.conn == client {
			mon.channel.Release()
			delete(s.monitors, handle)
		}
	}
}

func (s *Service) snapshotOrder() []*WindowState {
	out := make([]*WindowState, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Service) handleGetDisplayInfo(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.GetDisplayInfoRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	client.Reply(msg.Seq, wire.StatusOK, "", wire.GetDisplayInfoReply{
		Info: s.root.backend.Info(),
	}, nil)
}

func (s *Service) handleAddWindowToken(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.AddWindowTokenRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	if _, exists := s.tokens[req.Token]; exists {
		client.Reply(msg.Seq, wire.StatusDuplicateRegistration, "window token already existed", nil, nil)
		return
	}
	token := newWindowToken(req.Token, req.Type, req.DisplayId)
	token.owner = client
	s.tokens[req.Token] = token
	client.Reply(msg.Seq, wire.StatusOK, "", nil, nil)
}

func (s *Service) handleRemoveWindowToken(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.RemoveWindowTokenRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	token, ok := s.tokens[req.Token]
	if !ok {
		client.Reply(msg.Seq, wire.StatusUnknownHandle, "can't find token in map", nil, nil)
		return
	}
	token.removeAllWindowsIfPossible(s)
	delete(s.tokens, req.Token)
	client.Reply(msg.Seq, wire.StatusOK, "", nil, nil)
}

func (s *Service) handleIsWindowToken(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.IsWindowTokenRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	_, ok := s.tokens[req.Token]
	client.Reply(msg.Seq, wire.StatusOK, "", wire.IsWindowTokenReply{Registered: ok}, nil)
}

func (s *Service) handleUpdateTokenVisibility(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.UpdateTokenVisibilityRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	token, ok := s.tokens[req.Token]
	if !ok {
		client.Reply(msg.Seq, wire.StatusUnknownHandle, "can't find token in map", nil, nil)
		return
	}
	token.setClientVisible(req.Visible)
	client.Reply(msg.Seq, wire.StatusOK, "", nil, nil)
}

func (s *Service) handleAddWindow(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.AddWindowRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	if _, exists := s.windows[req.Window]; exists {
		client.Reply(msg.Seq, wire.StatusDuplicateRegistration, "window already existed", nil, nil)
		return
	}
	token, ok := s.tokens[req.Params.Token]
	if !ok {
		client.Reply(msg.Seq, wire.StatusUnknownHandle, "can't find window token in map", nil, nil)
		return
	}
	if len(s.windows) >= s.cfg.WindowLimitMax {
		s.toast("exceed maximum window limit")
		client.Reply(msg.Seq, wire.StatusLimitExceeded, "exceed maximum window limit", nil, nil)
		return
	}

	win := newWindowState(s, client, req.Window, token, req.Params, req.Visible)
	s.windows[req.Window] = win
	s.order = append(s.order, win)
	token.addWindow(win)

	var reply wire.AddWindowReply
	var fds []int
	if req.WantsInput || req.Params.HasInput() {
		name := runtimepath.EventName(s.cfg.GraphicsDir, client.Pid())
		ch, err := input.Create(name)
		if err != nil {
			s.destroyWindow(win)
			client.Reply(msg.Seq, wire.StatusAllocationFailure, err.Error(), nil, nil)
			return
		}
		win.dispatcher = ch
		readFd := ch.DetachReadFd()
		reply.InputChannel = &wire.InputChannelInfo{Name: name, Fd: 0}
		fds = append(fds, readFd)
		defer unix.Close(readFd)
	}

	logrus.WithFields(logrus.Fields{
		"window": req.Window,
		"token":  req.Params.Token,
		"pid":    client.Pid(),
	}).Info("window added")
	client.Reply(msg.Seq, wire.StatusOK, "", reply, fds)
}

func (s *Service) handleRemoveWindow(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.RemoveWindowRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	win, ok := s.windows[req.Window]
	if !ok {
		// Already removed; the second call is a no-op.
		client.Reply(msg.Seq, wire.StatusUnknownHandle, "can't find winstate in map", nil, nil)
		return
	}
	s.destroyWindow(win)
	client.Reply(msg.Seq, wire.StatusOK, "", nil, nil)
}

// destroyWindow tears a window down: vsync cancelled, surface and queue
// drained, input channel released, token unlinked. Idempotent.
func (s *Service) destroyWindow(win *WindowState) {
	if win.removed {
		return
	}
	win.removed = true

	win.destroySurfaceControl()
	if win.dispatcher != nil {
		win.dispatcher.Release()
		win.dispatcher = nil
	}
	win.token.removeWindow(win)
	delete(s.windows, win.handle)
	for i, w := range s.order {
		if w == win {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	logrus.WithField("window", win.handle).Info("window removed")
}

func (s *Service) handleRelayout(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.RelayoutRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	win, ok := s.windows[req.Window]
	if !ok {
		client.Reply(msg.Seq, wire.StatusUnknownHandle, "can't find winstate in map", nil, nil)
		return
	}

	win.params = req.Params
	win.setRequestedSize(req.RequestedWidth, req.RequestedHeight)

	// The existing surface never survives a relayout. A visible relayout
	// keeps the standing vsync request; only hiding cancels it.
	prevVsync := win.vsyncRequest
	win.destroySurfaceControl()

	if !req.Visible {
		win.visibility = false
		client.Reply(msg.Seq, wire.StatusOK, "", wire.RelayoutReply{}, nil)
		return
	}
	win.visibility = true
	win.vsyncRequest = prevVsync

	width, height := win.layoutSize()
	slotSize := win.params.Format.BufferBytes(width, height)
	ids, err := s.alloc.Allocate(client.Pid(), buffer.DefaultSlotCount, slotSize)
	if err != nil {
		client.Reply(msg.Seq, wire.StatusAllocationFailure, err.Error(), nil, nil)
		return
	}
	consumer, err := buffer.NewConsumer(ids, slotSize)
	if err != nil {
		// NewConsumer closed the fds; drop any named files too.
		for _, id := range ids {
			if id.Name != "" {
				os.Remove(id.Name)
			}
		}
		client.Reply(msg.Seq, wire.StatusAllocationFailure, err.Error(), nil, nil)
		return
	}

	win.surface = &serverSurface{
		handle:   wire.Handle(uuid.NewString()),
		ids:      ids,
		slotSize: slotSize,
		format:   win.params.Format,
		width:    width,
		height:   height,
		consumer: consumer,
	}
	win.node.x, win.node.y = win.params.X, win.params.Y

	info := wire.SurfaceControlInfo{
		Token:   win.token.handle,
		Surface: win.surface.handle,
		Width:   width,
		Height:  height,
		Format:  win.params.Format,
	}
	var fds []int
	for i, id := range ids {
		wireId := wire.BufferId{Name: id.Name, Key: id.Key, Fd: -1}
		if !s.cfg.BufferQueueByName {
			wireId.Fd = i
			fds = append(fds, id.Fd)
		}
		info.BufferIds = append(info.BufferIds, wireId)
	}

	logrus.WithFields(logrus.Fields{
		"window":  req.Window,
		"surface": win.surface.handle,
		"size":    fmt.Sprintf("%dx%d", width, height),
	}).Info("surface created")
	// Informational resize notification; clients may hook it.
	client.SendEvent(wire.EventResized, wire.ResizedEvent{
		Window: req.Window,
		Frame:  wire.Rect{X: win.node.x, Y: win.node.y, W: width, H: height},
	})
	client.Reply(msg.Seq, wire.StatusOK, "", wire.RelayoutReply{Surface: &info}, fds)
}

func (s *Service) handleRequestVsync(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.RequestVsyncRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	win, ok := s.windows[req.Window]
	if !ok {
		client.Reply(msg.Seq, wire.StatusUnknownHandle, "can't find winstate in map", nil, nil)
		return
	}
	win.scheduleVsync(req.Request)
	if s.anyVsyncRequested() {
		s.root.enableVsync()
	}
	client.Reply(msg.Seq, wire.StatusOK, "", nil, nil)
}

func (s *Service) handleApplyTransaction(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.ApplyTransactionRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	staged := false
	for _, st := range req.States {
		win := s.findWindowByToken(st.Token)
		if win == nil {
			// Unknown tokens are skipped, not failed.
			continue
		}
		win.applyTransaction(st)
		staged = true
	}
	if staged {
		// The composition loop consumes committed changes on its own
		// schedule; make sure there is a pass coming. It shuts off again
		// once nothing requests vsync.
		s.root.enableVsync()
	}
	client.Reply(msg.Seq, wire.StatusOK, "", nil, nil)
}

// findWindowByToken resolves a transaction entry's target window.
func (s *Service) findWindowByToken(token wire.Handle) *WindowState {
	t, ok := s.tokens[token]
	if !ok || len(t.windows) == 0 {
		return nil
	}
	return t.windows[len(t.windows)-1]
}

func (s *Service) handleMonitorInput(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.MonitorInputRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	if _, exists := s.monitors[req.Token]; exists {
		client.Reply(msg.Seq, wire.StatusDuplicateRegistration, "monitor token already existed", nil, nil)
		return
	}
	name := runtimepath.MonitorName(s.cfg.GraphicsDir, client.Pid(), req.Name)
	ch, err := input.Create(name)
	if err != nil {
		client.Reply(msg.Seq, wire.StatusAllocationFailure, err.Error(), nil, nil)
		return
	}
	s.monitors[req.Token] = &monitorEntry{name: req.Name, channel: ch, conn: client}

	readFd := ch.DetachReadFd()
	defer unix.Close(readFd)
	client.Reply(msg.Seq, wire.StatusOK, "", wire.MonitorInputReply{
		InputChannel: wire.InputChannelInfo{Name: name, Fd: 0},
	}, []int{readFd})
}

func (s *Service) handleReleaseInput(client *ipc.ClientConn, msg *wire.Message) {
	var req wire.ReleaseInputRequest
	if err := msg.Unpack(&req); err != nil {
		client.Reply(msg.Seq, wire.StatusInvalidRequest, err.Error(), nil, nil)
		return
	}
	mon, ok := s.monitors[req.Token]
	if !ok {
		client.Reply(msg.Seq, wire.StatusUnknownHandle, "can't find monitor in map", nil, nil)
		return
	}
	mon.channel.Release()
	delete(s.monitors, req.Token)
	client.Reply(msg.Seq, wire.StatusOK, "", nil, nil)
}

func (s *Service) handleGetStatus(client *ipc.ClientConn, msg *wire.Message) {
	client.Reply(msg.Seq, wire.StatusOK, "", wire.GetStatusReply{Status: wire.StatusData{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		WindowCount:   len(s.windows),
		TokenCount:    len(s.tokens),
		MonitorCount:  len(s.monitors),
		WindowLimit:   s.cfg.WindowLimitMax,
		VsyncActive:   s.root.vsyncActive,
		FramesDrawn:   s.framesDrawn,
		LastToast:     s.lastToast,
		Display:       s.root.backend.Info(),
	}}, nil)
}

func (s *Service) handleListWindows(client *ipc.ClientConn, msg *wire.Message) {
	reply := wire.ListWindowsReply{Windows: []wire.WindowInfo{}}
	for _, win := range s.order {
		reply.Windows = append(reply.Windows, win.info())
	}
	client.Reply(msg.Seq, wire.StatusOK, "", reply, nil)
}

func (s *Service) handleListTokens(client *ipc.ClientConn, msg *wire.Message) {
	reply := wire.ListTokensReply{Tokens: []wire.TokenInfo{}}
	for _, token := range s.tokens {
		reply.Tokens = append(reply.Tokens, token.info())
	}
	client.Reply(msg.Seq, wire.StatusOK, "", reply, nil)
}

// responseVsync fans one tick out to every window.
func (s *Service) responseVsync() {
	for _, win := range s.order {
		win.onVsync()
	}
}

// anyVsyncRequested reports whether some window still wants ticks.
func (s *Service) anyVsyncRequested() bool {
	for _, win := range s.order {
		if win.vsyncRequest != wire.VsyncNone {
			return true
		}
	}
	return false
}

// dispatchInput routes a display input event to the topmost input-enabled
// window under it, and copies it to every registered monitor.
func (s *Service) dispatchInput(msg *input.Message) {
	for _, mon := range s.monitors {
		// Monitor overflow only warns; monitors must not stall windows.
		_ = mon.channel.Send(msg)
	}

	if msg.Type == input.TypePointer {
		for i := len(s.order) - 1; i >= 0; i-- {
			win := s.order[i]
			if win.visibility && win.dispatcher != nil && win.contains(msg.X, msg.Y) {
				win.sendInputMessage(msg)
				return
			}
		}
		return
	}

	// Key events go to the topmost input-enabled window.
	for i := len(s.order) - 1; i >= 0; i-- {
		win := s.order[i]
		if win.visibility && win.dispatcher != nil {
			win.sendInputMessage(msg)
			return
		}
	}
}
