package server

import (
	"os"
	"testing"
	"time"

	"github.com/quartzwm/quartz/internal/buffer"
	"github.com/quartzwm/quartz/internal/client"
	"github.com/quartzwm/quartz/internal/config"
	"github.com/quartzwm/quartz/internal/wire"
)

// S1: one window, periodic vsync, a full dequeue-draw-queue-transaction-
// composite-release round trip ending with every slot free.
func TestHappyFrame(t *testing.T) {
	h := newHarness(t)
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	driver := client.NewDummyDriver(dummyRed)
	driver.Crop = &wire.Rect{X: 0, Y: 0, W: 200, H: 100}
	win := c.openWindow(token, defaultParams(token), driver)

	c.onClient(func() { win.ScheduleVsync(wire.VsyncPeriodic) })

	waitFor(t, "frames drawn", func() bool { return driver.Frames() >= 2 })
	waitFor(t, "composition", func() bool { return h.backend.Posted() >= 1 })

	// The serviced window advanced its sequence monotonically.
	var seq int32
	h.onService(func() {
		if ws := h.svc.windows[win.Handle()]; ws != nil {
			seq = ws.frameSeq
		}
	})
	if seq < 2 {
		t.Fatalf("frame seq = %d, want >= 2", seq)
	}

	// Stop frames, let in-flight releases land, then every slot is free.
	c.onClient(func() { win.ScheduleVsync(wire.VsyncNone) })
	waitFor(t, "slots back to free", func() bool {
		allFree := false
		c.onClient(func() {
			states := win.ProducerStates()
			if states == nil {
				return
			}
			allFree = true
			for _, st := range states {
				if st != buffer.StateFree {
					allFree = false
				}
			}
		})
		return allFree
	})

	// Quiesce the compositor before inspecting the backbuffer.
	waitFor(t, "vsync idle", func() bool {
		var active bool
		h.onService(func() { active = h.svc.root.vsyncActive })
		return !active
	})

	// The dummy color landed on the composited frame at the window
	// position.
	frame := h.backend.Frame()
	if frame == nil {
		t.Fatal("no composited frame")
	}
	got := frame.RGBAAt(10, 10)
	if got != dummyRed {
		t.Fatalf("composited pixel = %v, want %v", got, dummyRed)
	}
}

// S2: back-to-back ticks against a slow client: late ticks are dropped by
// the frameDone gate, nothing leaks, nothing crashes.
func TestPipelineOverrun(t *testing.T) {
	h := newHarness(t)
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	driver := client.NewDummyDriver(dummyRed)
	driver.DrawDelay = 25 * time.Millisecond // five tick periods
	win := c.openWindow(token, defaultParams(token), driver)

	c.onClient(func() { win.ScheduleVsync(wire.VsyncPeriodic) })
	waitFor(t, "several slow frames", func() bool { return driver.Frames() >= 3 })

	var ticks int32
	h.onService(func() {
		if w := h.svc.windows[win.Handle()]; w != nil {
			ticks = w.frameSeq
		}
	})
	if int(ticks) <= driver.Frames() {
		t.Fatalf("ticks %d <= frames %d; overrun never happened", ticks, driver.Frames())
	}

	c.onClient(func() { win.ScheduleVsync(wire.VsyncNone) })
	waitFor(t, "no leaked buffers", func() bool {
		dequeued := 0
		c.onClient(func() {
			for _, st := range win.ProducerStates() {
				if st == buffer.StateDequeued {
					dequeued++
				}
			}
		})
		return dequeued == 0
	})
}

// S3: the window limit rejects and toasts; the map stays at the limit.
func TestLimitExceeded(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.WindowLimitMax = 1 })
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	first := c.wm.NewWindow(defaultParams(token))
	c.onClient(func() { err = c.wm.AttachWindow(first) })
	if err != nil {
		t.Fatalf("first attach: %v", err)
	}

	second := c.wm.NewWindow(defaultParams(token))
	var attachErr error
	c.onClient(func() { attachErr = c.wm.AttachWindow(second) })
	if attachErr == nil {
		t.Fatal("second attach succeeded past the limit")
	}

	h.onService(func() {
		if got := len(h.svc.windows); got != 1 {
			t.Errorf("window map size = %d, want 1", got)
		}
		if h.svc.lastToast != "exceed maximum window limit" {
			t.Errorf("toast = %q", h.svc.lastToast)
		}
	})
}

// S4: hiding the token cancels vsync and the idle source shuts off.
func TestHideCancelsVsync(t *testing.T) {
	h := newHarness(t)
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	driver := client.NewDummyDriver(dummyRed)
	win := c.openWindow(token, defaultParams(token), driver)

	c.onClient(func() { win.ScheduleVsync(wire.VsyncPeriodic) })
	waitFor(t, "vsync active", func() bool {
		var active bool
		h.onService(func() { active = h.svc.root.vsyncActive })
		return active
	})

	if err := c.wm.UpdateWindowTokenVisibility(token, false); err != nil {
		t.Fatalf("hide token: %v", err)
	}

	waitFor(t, "window hidden and request cancelled", func() bool {
		var ok bool
		h.onService(func() {
			w := h.svc.windows[win.Handle()]
			ok = w != nil && !w.visibility && w.vsyncRequest == wire.VsyncNone
		})
		return ok
	})
	waitFor(t, "vsync source disabled", func() bool {
		var active bool
		h.onService(func() { active = h.svc.root.vsyncActive })
		return !active
	})

	// Invariant 2: hidden window never holds a vsync request.
	h.onService(func() {
		for _, w := range h.svc.order {
			if !w.visibility && w.vsyncRequest != wire.VsyncNone {
				t.Errorf("hidden window %s holds vsync request %v", w.handle, w.vsyncRequest)
			}
		}
	})
}

// S5: client death cascades: windows gone, named buffers unlinked, input
// channel released, token windows updated.
func TestClientDeathCleanup(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.BufferQueueByName = true })
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	params := defaultParams(token)
	params.Flags |= wire.FlagInputEnabled
	win := c.openWindow(token, params, client.NewDummyDriver(dummyRed))

	// Collect the on-disk names backing the surface and channel.
	var names []string
	h.onService(func() {
		w := h.svc.windows[win.Handle()]
		if w == nil || w.surface == nil {
			t.Error("window has no surface before death")
			return
		}
		for _, id := range w.surface.ids {
			names = append(names, id.Name)
		}
	})
	if len(names) == 0 {
		t.Fatal("no named buffers allocated under buffer_queue_by_name")
	}
	for _, name := range names {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("buffer file missing before death: %v", err)
		}
	}

	c.wm.Close()

	waitFor(t, "window map empty", func() bool {
		var n int
		h.onService(func() { n = len(h.svc.windows) })
		return n == 0
	})
	h.onService(func() {
		if len(h.svc.tokens) != 0 {
			t.Errorf("tokens left after death: %d", len(h.svc.tokens))
		}
	})
	for _, name := range names {
		if _, err := os.Stat(name); !os.IsNotExist(err) {
			t.Errorf("buffer file %q survived death: %v", name, err)
		}
	}
}

// S6: transaction entries touching disjoint fields commit together and in
// either order.
func TestTransactionOrdering(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		h := newHarness(t)
		c := h.newClient()

		token, err := c.wm.CreateWindowToken(0)
		if err != nil {
			t.Fatalf("create token: %v", err)
		}
		driver := client.NewDummyDriver(dummyRed)
		win := c.openWindow(token, defaultParams(token), driver)

		c.onClient(func() { win.ScheduleVsync(wire.VsyncSingle) })
		waitFor(t, "first frame", func() bool { return driver.Frames() >= 1 })
		waitFor(t, "first composition", func() bool { return h.backend.Posted() >= 1 })

		// Stage a buffer by hand so the transaction can name its key.
		var key int32
		var prepErr error
		c.onClient(func() {
			p := win.Producer()
			item := p.Dequeue()
			if item == nil {
				prepErr = os.ErrInvalid
				return
			}
			key = item.Key
			prepErr = p.Queue(item)
		})
		if prepErr != nil {
			t.Fatalf("buffer staging failed: %v", prepErr)
		}

		entries := []wire.LayerState{
			{Token: token, Flags: wire.LayerPositionChanged, X: 10, Y: 10},
			{
				Token: token, Flags: wire.LayerBufferChanged | wire.LayerBufferCropChanged,
				BufferKey: key, BufferCrop: wire.Rect{X: 0, Y: 0, W: 50, H: 40},
			},
		}
		if reversed {
			entries[0], entries[1] = entries[1], entries[0]
		}

		if err := c.wm.ApplyTransaction(entries); err != nil {
			t.Fatalf("apply transaction: %v", err)
		}

		c.onClient(func() { win.ScheduleVsync(wire.VsyncSingle) })
		waitFor(t, "post-transaction composition", func() bool {
			var ok bool
			h.onService(func() {
				w := h.svc.windows[win.Handle()]
				ok = w != nil && w.node.x == 10 && w.node.y == 10 &&
					w.node.crop != nil && w.node.crop.W == 50 && w.node.crop.H == 40
			})
			return ok
		})
	}
}

// Round trip: addWindowToken then removeWindowToken restores pre-call
// state; removal cascades window teardown (invariant 5).
func TestTokenRoundTripAndCascade(t *testing.T) {
	h := newHarness(t)
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	c.openWindow(token, defaultParams(token), client.NewDummyDriver(dummyRed))

	if err := c.wm.RemoveWindowToken(token); err != nil {
		t.Fatalf("remove token: %v", err)
	}

	h.onService(func() {
		if len(h.svc.tokens) != 0 || len(h.svc.windows) != 0 || len(h.svc.order) != 0 {
			t.Errorf("maps not empty after token removal: tokens=%d windows=%d order=%d",
				len(h.svc.tokens), len(h.svc.windows), len(h.svc.order))
		}
	})

	// The handle is reusable: the system returned to its pre-call state.
	var status wire.Status
	h.onService(func() {
		if _, exists := h.svc.tokens[token]; exists {
			status = wire.StatusDuplicateRegistration
		} else {
			status = wire.StatusOK
		}
	})
	if status != wire.StatusOK {
		t.Fatal("token handle still registered after removal")
	}
}

func TestDuplicateRegistrationsRejected(t *testing.T) {
	h := newHarness(t)
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	// Token handles collide.
	status, _, dupErr := rawCall(h, wire.MethodAddWindowToken, wire.AddWindowTokenRequest{Token: token})
	if dupErr == nil {
		t.Fatal("duplicate token registration accepted")
	}
	if status != wire.StatusDuplicateRegistration {
		t.Fatalf("duplicate token status = %v", status)
	}

	// Window handles collide.
	win := c.openWindow(token, defaultParams(token), nil)
	if status, _, dupErr = rawCall(h, wire.MethodAddWindow, wire.AddWindowRequest{
		Window: win.Handle(),
		Params: defaultParams(token),
	}); dupErr == nil {
		t.Fatal("duplicate window registration accepted")
	} else if status != wire.StatusDuplicateRegistration {
		t.Fatalf("duplicate window status = %v", status)
	}

	// Unknown token on addWindow.
	if status, _, dupErr = rawCall(h, wire.MethodAddWindow, wire.AddWindowRequest{
		Window: "fresh-window",
		Params: defaultParams("no-such-token"),
	}); dupErr == nil {
		t.Fatal("addWindow with unknown token accepted")
	} else if status != wire.StatusUnknownHandle {
		t.Fatalf("unknown token status = %v", status)
	}
}

func TestRemoveWindowTwiceIsNoOp(t *testing.T) {
	h := newHarness(t)
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	win := c.openWindow(token, defaultParams(token), client.NewDummyDriver(dummyRed))

	var first, second error
	c.onClient(func() { first = c.wm.RemoveWindow(win) })
	if first != nil {
		t.Fatalf("first remove: %v", first)
	}

	_, _, second = rawCall(h, wire.MethodRemoveWindow, wire.RemoveWindowRequest{Window: win.Handle()})
	if second == nil {
		t.Log("second remove reported ok") // tolerated; must not mutate
	}
	h.onService(func() {
		if len(h.svc.windows) != 0 {
			t.Errorf("window map size = %d after double remove", len(h.svc.windows))
		}
	})
}

func TestRelayoutInvisibleDestroysSurface(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.BufferQueueByName = true })
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	win := c.openWindow(token, defaultParams(token), client.NewDummyDriver(dummyRed))

	var names []string
	h.onService(func() {
		w := h.svc.windows[win.Handle()]
		for _, id := range w.surface.ids {
			names = append(names, id.Name)
		}
	})

	// Hide via the token: the client relayouts with visible=false and the
	// surface dies.
	if err := c.wm.UpdateWindowTokenVisibility(token, false); err != nil {
		t.Fatalf("hide: %v", err)
	}
	waitFor(t, "surface destroyed", func() bool {
		var gone bool
		h.onService(func() {
			w := h.svc.windows[win.Handle()]
			gone = w != nil && w.surface == nil
		})
		return gone
	})
	for _, name := range names {
		if _, err := os.Stat(name); !os.IsNotExist(err) {
			t.Errorf("buffer file %q survived surface destruction", name)
		}
	}

	// The client side dropped its producer too.
	waitFor(t, "client surface dropped", func() bool {
		var dropped bool
		c.onClient(func() { dropped = win.SurfaceControl() == nil })
		return dropped
	})
}

func TestScheduleVsyncIdempotence(t *testing.T) {
	win := &WindowState{vsyncRequest: wire.VsyncNone}

	if !win.scheduleVsync(wire.VsyncPeriodic) {
		t.Fatal("first schedule reported not-rescheduled")
	}
	if win.scheduleVsync(wire.VsyncPeriodic) {
		t.Fatal("second identical schedule reported rescheduled")
	}
	if win.vsyncRequest != wire.VsyncPeriodic {
		t.Fatalf("request = %v", win.vsyncRequest)
	}
}

func TestInputDelivery(t *testing.T) {
	h := newHarness(t)
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	params := defaultParams(token)
	params.Flags |= wire.FlagInputEnabled
	driver := client.NewDummyDriver(dummyRed)
	c.openWindow(token, params, driver)

	// A pointer press inside the window's frame.
	press := inputPress(15, 15)
	h.onService(func() {
		h.svc.dispatchInput(&press)
	})

	waitFor(t, "event at the driver", func() bool { return len(driver.Events()) >= 1 })
	ev := driver.Events()[0]
	if ev.X != 15 || ev.Y != 15 {
		t.Fatalf("event = %+v", ev)
	}

	// A press outside every window goes nowhere.
	miss := inputPress(300, 200)
	h.onService(func() {
		h.svc.dispatchInput(&miss)
	})
	time.Sleep(50 * time.Millisecond)
	if len(driver.Events()) != 1 {
		t.Fatalf("out-of-bounds press delivered: %d events", len(driver.Events()))
	}
}

func TestInputMonitorReceivesCopies(t *testing.T) {
	h := newHarness(t)
	c := h.newClient()

	token, err := c.wm.CreateWindowToken(0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	params := defaultParams(token)
	params.Flags |= wire.FlagInputEnabled
	c.openWindow(token, params, client.NewDummyDriver(dummyRed))

	monToken, ch, err := c.wm.MonitorInput("observer", 0)
	if err != nil {
		t.Fatalf("monitor input: %v", err)
	}
	defer ch.Release()

	press := inputPress(15, 15)
	h.onService(func() {
		h.svc.dispatchInput(&press)
	})

	waitFor(t, "monitor copy", func() bool {
		msg, err := ch.Recv()
		return err == nil && msg != nil
	})

	if err := c.wm.ReleaseInput(monToken); err != nil {
		t.Fatalf("release input: %v", err)
	}
	h.onService(func() {
		if len(h.svc.monitors) != 0 {
			t.Errorf("monitors left: %d", len(h.svc.monitors))
		}
	})
}
