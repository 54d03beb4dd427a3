package server

import (
	"github.com/quartzwm/quartz/internal/ipc"
	"github.com/quartzwm/quartz/internal/wire"
)

// WindowToken groups one client's windows under an opaque handle and
// carries the client-visibility flag they inherit.
type WindowToken struct {
	handle        wire.Handle
	tokenType     int32
	displayId     int32
	owner         *ipc.ClientConn
	clientVisible bool

	// windows keeps registration order; each window holds a non-owning
	// back-reference to this token.
	windows []*WindowState
}

func newWindowToken(handle wire.Handle, tokenType, displayId int32) *WindowToken {
	return &WindowToken{
		handle:        handle,
		tokenType:     tokenType,
		displayId:     displayId,
		clientVisible: true,
	}
}

func (t *WindowToken) isClientVisible() bool { return t.clientVisible }

func (t *WindowToken) addWindow(win *WindowState) {
	t.windows = append(t.windows, win)
}

func (t *WindowToken) removeWindow(win *WindowState) {
	for i, w := range t.windows {
		if w == win {
			t.windows = append(t.windows[:i], t.windows[i+1:]...)
			return
		}
	}
}

// setClientVisible updates the visibility flag and pushes it to every
// window in the group.
func (t *WindowToken) setClientVisible(visible bool) {
	t.clientVisible = visible
	for _, win := range t.windows {
		win.sendAppVisibilityToClient()
	}
}

// removeAllWindowsIfPossible tears down every window in the group.
func (t *WindowToken) removeAllWindowsIfPossible(s *Service) {
	// Teardown unlinks windows from the slice; iterate a copy.
	wins := make([]*WindowState, len(t.windows))
	copy(wins, t.windows)
	for _, win := range wins {
		s.destroyWindow(win)
	}
}

func (t *WindowToken) info() wire.TokenInfo {
	return wire.TokenInfo{
		Token:         t.handle,
		Type:          t.tokenType,
		DisplayId:     t.displayId,
		ClientVisible: t.clientVisible,
		WindowCount:   len(t.windows),
	}
}
