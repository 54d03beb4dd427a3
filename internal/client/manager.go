package client

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quartzwm/quartz/internal/buffer"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/ipc"
	"github.com/quartzwm/quartz/internal/looper"
	"github.com/quartzwm/quartz/internal/surface"
	"github.com/quartzwm/quartz/internal/wire"
)

// WindowManager is the client-side entry point: it owns the service
// connection, the display info cache and the process's windows.
type WindowManager struct {
	loop   *looper.Looper
	client *ipc.Client

	display wire.DisplayInfo

	// byHandle is written on the loop and read by the transport
	// goroutine routing events.
	mu       sync.Mutex
	byHandle map[wire.Handle]*BaseWindow

	// OnServiceDeath fires when the service connection drops.
	OnServiceDeath func()
}

// NewWindowManager connects to the service and caches the primary display
// geometry.
func NewWindowManager(socketPath string, loop *looper.Looper) (*WindowManager, error) {
	wm := &WindowManager{
		loop:     loop,
		byHandle: make(map[wire.Handle]*BaseWindow),
	}

	client, err := ipc.Dial(socketPath, wm.routeEvent)
	if err != nil {
		return nil, err
	}
	wm.client = client
	client.OnDeath(func() {
		if wm.OnServiceDeath != nil {
			wm.OnServiceDeath()
		}
	})

	var reply wire.GetDisplayInfoReply
	if _, _, err := client.Call(wire.MethodGetDisplayInfo,
		wire.GetDisplayInfoRequest{DisplayId: 0}, &reply); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query display info: %w", err)
	}
	wm.display = reply.Info
	return wm, nil
}

// DisplayInfo returns the cached primary display geometry.
func (wm *WindowManager) DisplayInfo() wire.DisplayInfo { return wm.display }

// routeEvent runs on the transport goroutine: decode, find the window,
// and (except for the frameDone gate) trampoline onto the loop.
func (wm *WindowManager) routeEvent(msg *wire.Message, fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}

	switch msg.Method {
	case wire.EventOnFrame:
		var ev wire.OnFrameEvent
		if err := msg.Unpack(&ev); err != nil {
			return
		}
		if win := wm.findWindow(ev.Window); win != nil {
			win.onFrame(ev.Seq)
		}
	case wire.EventBufferReleased:
		var ev wire.BufferReleasedEvent
		if err := msg.Unpack(&ev); err != nil {
			return
		}
		if win := wm.findWindow(ev.Window); win != nil {
			wm.loop.Post(func() { win.handleBufferReleased(ev.Key) })
		}
	case wire.EventAppVisibility:
		var ev wire.AppVisibilityEvent
		if err := msg.Unpack(&ev); err != nil {
			return
		}
		if win := wm.findWindow(ev.Window); win != nil {
			wm.loop.Post(func() { win.handleAppVisibility(ev.Visible) })
		}
	case wire.EventMoved:
		var ev wire.MovedEvent
		if err := msg.Unpack(&ev); err != nil {
			return
		}
		if win := wm.findWindow(ev.Window); win != nil && win.Moved != nil {
			wm.loop.Post(func() { win.Moved(ev.X, ev.Y) })
		}
	case wire.EventResized:
		var ev wire.ResizedEvent
		if err := msg.Unpack(&ev); err != nil {
			return
		}
		if win := wm.findWindow(ev.Window); win != nil && win.Resized != nil {
			wm.loop.Post(func() { win.Resized(ev.Frame, ev.DisplayId) })
		}
	default:
		logrus.WithField("event", msg.Method).Debug("unhandled service event")
	}
}

func (wm *WindowManager) findWindow(handle wire.Handle) *BaseWindow {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.byHandle[handle]
}

// CreateWindowToken registers a fresh token grouping this client's
// windows.
func (wm *WindowManager) CreateWindowToken(tokenType int32) (wire.Handle, error) {
	token := wire.Handle(uuid.NewString())
	_, _, err := wm.client.Call(wire.MethodAddWindowToken, wire.AddWindowTokenRequest{
		Token: token,
		Type:  tokenType,
	}, nil)
	if err != nil {
		return "", err
	}
	return token, nil
}

// RemoveWindowToken drops a token; the service cascades window removal.
func (wm *WindowManager) RemoveWindowToken(token wire.Handle) error {
	_, _, err := wm.client.Call(wire.MethodRemoveWindowToken,
		wire.RemoveWindowTokenRequest{Token: token}, nil)
	return err
}

// UpdateWindowTokenVisibility flips the token's client visibility.
func (wm *WindowManager) UpdateWindowTokenVisibility(token wire.Handle, visible bool) error {
	_, _, err := wm.client.Call(wire.MethodUpdateTokenVisible,
		wire.UpdateTokenVisibilityRequest{Token: token, Visible: visible}, nil)
	return err
}

// NewWindow builds a window under token. Attach registers it with the
// service.
func (wm *WindowManager) NewWindow(params wire.LayoutParams) *BaseWindow {
	handle := wire.Handle(uuid.NewString())
	win := newBaseWindow(wm, handle, params)
	wm.mu.Lock()
	wm.byHandle[handle] = win
	wm.mu.Unlock()
	return win
}

// AttachWindow registers the window with the service. When the layout
// params request input, the returned channel is wired into the loop.
func (wm *WindowManager) AttachWindow(win *BaseWindow) error {
	if win.attached {
		return nil
	}
	var reply wire.AddWindowReply
	_, fds, err := wm.client.Call(wire.MethodAddWindow, wire.AddWindowRequest{
		Window:     win.handle,
		Params:     win.params,
		Visible:    true,
		UserId:     1,
		WantsInput: win.params.HasInput(),
	}, &reply)
	if err != nil {
		return err
	}
	win.attached = true
	win.appVisible = true

	if reply.InputChannel != nil {
		if reply.InputChannel.Fd < 0 || reply.InputChannel.Fd >= len(fds) {
			logrus.Warn("add window reply names a missing channel fd")
		} else {
			ch := input.FromReadFd(reply.InputChannel.Name, fds[reply.InputChannel.Fd])
			win.setInputChannel(ch)
			fds[reply.InputChannel.Fd] = -1
		}
	}
	for _, fd := range fds {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
	return nil
}

// RelayoutWindow drives a layout round trip and installs the resulting
// surface (or its absence) on the window.
func (wm *WindowManager) RelayoutWindow(win *BaseWindow) error {
	var reply wire.RelayoutReply
	_, fds, err := wm.client.Call(wire.MethodRelayout, wire.RelayoutRequest{
		Window:          win.handle,
		Params:          win.params,
		RequestedWidth:  win.params.Width,
		RequestedHeight: win.params.Height,
		Visible:         win.appVisible,
	}, &reply)
	if err != nil {
		return err
	}

	if reply.Surface == nil {
		return win.setSurfaceControl(nil)
	}

	ids, err := wm.resolveBufferIds(reply.Surface.BufferIds, fds)
	if err != nil {
		return err
	}
	sc := surface.FromInfo(reply.Surface)
	sc.BufferIds = ids
	return win.setSurfaceControl(sc)
}

// resolveBufferIds turns wire fd indexes into live descriptors, opening
// by name when the service runs with buffer_queue_by_name.
func (wm *WindowManager) resolveBufferIds(ids []wire.BufferId, fds []int) ([]wire.BufferId, error) {
	needOpen := false
	out := make([]wire.BufferId, len(ids))
	for i, id := range ids {
		out[i] = id
		if id.Fd >= 0 && id.Fd < len(fds) {
			out[i].Fd = fds[id.Fd]
		} else {
			out[i].Fd = -1
			needOpen = true
		}
	}
	if !needOpen {
		return out, nil
	}
	opened, err := buffer.OpenByName(out)
	if err != nil {
		for _, id := range out {
			if id.Fd >= 0 {
				unix.Close(id.Fd)
			}
		}
		return nil, err
	}
	return opened, nil
}

// RemoveWindow unregisters the window and releases its client state. The
// connection is left up for the process's other windows.
func (wm *WindowManager) RemoveWindow(win *BaseWindow) error {
	_, _, err := wm.client.Call(wire.MethodRemoveWindow,
		wire.RemoveWindowRequest{Window: win.handle}, nil)
	win.doDie()
	wm.mu.Lock()
	delete(wm.byHandle, win.handle)
	empty := len(wm.byHandle) == 0
	wm.mu.Unlock()
	if empty {
		logrus.Debug("last window removed")
	}
	return err
}

// Transaction builds a transaction applied through this connection.
func (wm *WindowManager) Transaction() *surface.Transaction {
	return surface.NewTransaction(wm.ApplyTransaction)
}

// ApplyTransaction ships layer states in one call.
func (wm *WindowManager) ApplyTransaction(states []wire.LayerState) error {
	_, _, err := wm.client.Call(wire.MethodApplyTransaction,
		wire.ApplyTransactionRequest{States: states}, nil)
	return err
}

// MonitorInput registers a named input monitor and returns its token and
// channel.
func (wm *WindowManager) MonitorInput(name string, displayId int32) (wire.Handle, *input.Channel, error) {
	token := wire.Handle(uuid.NewString())
	var reply wire.MonitorInputReply
	_, fds, err := wm.client.Call(wire.MethodMonitorInput, wire.MonitorInputRequest{
		Token:     token,
		Name:      name,
		DisplayId: displayId,
	}, &reply)
	if err != nil {
		return "", nil, err
	}
	if reply.InputChannel.Fd < 0 || reply.InputChannel.Fd >= len(fds) {
		return "", nil, fmt.Errorf("monitor reply names a missing channel fd")
	}
	ch := input.FromReadFd(reply.InputChannel.Name, fds[reply.InputChannel.Fd])
	return token, ch, nil
}

// ReleaseInput unregisters an input monitor.
func (wm *WindowManager) ReleaseInput(token wire.Handle) error {
	_, _, err := wm.client.Call(wire.MethodReleaseInput,
		wire.ReleaseInputRequest{Token: token}, nil)
	return err
}

// IsWindowToken asks the service whether handle names a live token.
func (wm *WindowManager) IsWindowToken(token wire.Handle) (bool, error) {
	var reply wire.IsWindowTokenReply
	if _, _, err := wm.client.Call(wire.MethodIsWindowToken,
		wire.IsWindowTokenRequest{Token: token}, &reply); err != nil {
		return false, err
	}
	return reply.Registered, nil
}

// requestVsync forwards a window's standing request.
func (wm *WindowManager) requestVsync(win *BaseWindow, req wire.VsyncRequest) error {
	_, _, err := wm.client.Call(wire.MethodRequestVsync, wire.RequestVsyncRequest{
		Window:  win.handle,
		Request: req,
	}, nil)
	return err
}

// Close drops the service connection.
func (wm *WindowManager) Close() { wm.client.Close() }
