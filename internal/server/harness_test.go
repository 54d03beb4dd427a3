package server

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/quartzwm/quartz/internal/client"
	"github.com/quartzwm/quartz/internal/config"
	"github.com/quartzwm/quartz/internal/display"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/ipc"
	"github.com/quartzwm/quartz/internal/looper"
	"github.com/quartzwm/quartz/internal/wire"
)

// harness runs a full service on a headless display with a timer vsync
// source, reachable over a real control socket.
type harness struct {
	t       *testing.T
	cfg     *config.Config
	loop    *looper.Looper
	backend *display.Headless
	svc     *Service
	srv     *ipc.Server
	socket  string
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DisplayBackend = config.BackendHeadless
	cfg.DisplaySyncMode = config.SyncModeTimer
	cfg.Display = config.DisplayGeometry{Width: 320, Height: 240, RefreshHz: 200}
	cfg.GraphicsDir = t.TempDir()
	cfg.JanitorInterval = 0
	for _, fn := range mutate {
		fn(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}

	loop := looper.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	backend := display.NewHeadless(cfg.Display.Width, cfg.Display.Height, cfg.Display.RefreshHz)
	svc := New(cfg, backend, loop)
	t.Cleanup(svc.Close)

	socket := filepath.Join(t.TempDir(), "quartz.sock")
	srv := ipc.NewServer(socket, svc, loop)
	if err := srv.Start(); err != nil {
		t.Fatalf("ipc server start: %v", err)
	}
	t.Cleanup(srv.Close)

	return &harness{t: t, cfg: cfg, loop: loop, backend: backend, svc: svc, srv: srv, socket: socket}
}

// onService runs fn on the service loop and waits for it.
func (h *harness) onService(fn func()) {
	h.t.Helper()
	done := make(chan struct{})
	if !h.loop.Post(func() { fn(); close(done) }) {
		h.t.Fatal("service loop is down")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("service loop task timed out")
	}
}

// testClient bundles a client runtime on its own loop.
type testClient struct {
	t    *testing.T
	loop *looper.Looper
	wm   *client.WindowManager
}

func (h *harness) newClient() *testClient {
	h.t.Helper()

	loop := looper.New()
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(cancel)
	go loop.Run(ctx)

	wm, err := client.NewWindowManager(h.socket, loop)
	if err != nil {
		h.t.Fatalf("client connect: %v", err)
	}
	h.t.Cleanup(wm.Close)
	return &testClient{t: h.t, loop: loop, wm: wm}
}

// onClient runs fn on the client loop and waits for it.
func (c *testClient) onClient(fn func()) {
	c.t.Helper()
	done := make(chan struct{})
	if !c.loop.Post(func() { fn(); close(done) }) {
		c.t.Fatal("client loop is down")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.t.Fatal("client loop task timed out")
	}
}

// openWindow builds, attaches and lays out a visible window with a dummy
// driver, returning the window and driver.
func (c *testClient) openWindow(token wire.Handle, params wire.LayoutParams,
	driver client.UIDriverProxy) *client.BaseWindow {
	c.t.Helper()

	win := c.wm.NewWindow(params)
	if driver != nil {
		win.SetUIProxy(driver)
	}
	var err error
	c.onClient(func() {
		if err = c.wm.AttachWindow(win); err != nil {
			return
		}
		err = c.wm.RelayoutWindow(win)
	})
	if err != nil {
		c.t.Fatalf("open window: %v", err)
	}
	return win
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// rawCall issues one request over a throwaway connection, bypassing the
// client runtime. Used to poke error paths.
func rawCall(h *harness, method string, payload any) (wire.Status, []int, error) {
	h.t.Helper()
	raw, err := ipc.Dial(h.socket, nil)
	if err != nil {
		h.t.Fatalf("raw dial: %v", err)
	}
	defer raw.Close()
	return raw.Call(method, payload, nil)
}

func inputPress(x, y int32) input.Message {
	return input.Message{
		Type:  input.TypePointer,
		State: input.StatePressed,
		X:     x,
		Y:     y,
	}
}

func defaultParams(token wire.Handle) wire.LayoutParams {
	return wire.LayoutParams{
		X: 10, Y: 10,
		Width: 200, Height: 100,
		Format: wire.FormatRGBA8888,
		Token:  token,
	}
}

var dummyRed = color.RGBA{R: 255, G: 0, B: 0, A: 255}
