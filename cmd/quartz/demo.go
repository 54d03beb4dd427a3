package main

import (
	"context"
	"flag"
	"image"
	"image/color"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/quartzwm/quartz/internal/client"
	"github.com/quartzwm/quartz/internal/looper"
	"github.com/quartzwm/quartz/internal/wire"
)

// runDemo starts a sample client: one input-enabled window presenting a
// gradient through the image driver. Input reaches the driver, which ignores
// it; the window stays where it was placed.
func runDemo(args []string) int {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	socketFlag := fs.String("socket", "", "override control socket path")
	width := fs.Int("width", 200, "window width")
	height := fs.Int("height", 100, "window height")
	fs.Parse(args)

	socket, err := socketPathFromEnv(*socketFlag)
	if err != nil {
		logrus.WithError(err).Error("failed to resolve socket path")
		return 1
	}

	loop := looper.New()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	wm, err := client.NewWindowManager(socket, loop)
	if err != nil {
		logrus.WithError(err).Error("failed to connect to service")
		return 1
	}
	defer wm.Close()
	wm.OnServiceDeath = stop

	token, err := wm.CreateWindowToken(0)
	if err != nil {
		logrus.WithError(err).Error("failed to create window token")
		return 1
	}

	win := wm.NewWindow(wire.LayoutParams{
		X: 10, Y: 10,
		Width: int32(*width), Height: int32(*height),
		Format: wire.FormatRGBA8888,
		Flags:  wire.FlagInputEnabled,
		Token:  token,
	})

	driver := client.NewImageDriver()
	driver.SetImage(gradient(*width, *height))
	win.SetUIProxy(driver)

	done := make(chan int, 1)
	loop.Post(func() {
		if err := wm.AttachWindow(win); err != nil {
			logrus.WithError(err).Error("failed to attach window")
			done <- 1
			return
		}
		if err := wm.RelayoutWindow(win); err != nil {
			logrus.WithError(err).Error("failed to lay window out")
			done <- 1
			return
		}
		win.ScheduleVsync(wire.VsyncPeriodic)
		logrus.Info("demo window up; ctrl-c to quit")
	})

	select {
	case code := <-done:
		return code
	case <-ctx.Done():
	}

	// The loop has drained and stopped; no frame handler can race this teardown.
	<-loopDone
	wm.RemoveWindow(win)
	wm.RemoveWindowToken(token)
	return 0
}

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(255 * x / w),
				G: uint8(255 * y / h),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}
