// Package display abstracts the physical output the compositor draws to:
// a framebuffer device, an X11-hosted window for development, or a headless
// buffer for tests.
package display

import (
	"fmt"
	"image"

	"github.com/quartzwm/quartz/internal/config"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/wire"
)

// Backend is one display output.
type Backend interface {
	// Info returns the display geometry and refresh rate.
	Info() wire.DisplayInfo

	// VsyncFd returns the descriptor whose readability marks a refresh,
	// or -1 when the backend paces with a timer at the refresh period.
	VsyncFd() int

	// Post presents a composited frame. The frame is display-sized.
	Post(frame *image.RGBA) error

	// Events streams input originating at the display, or nil when the
	// backend produces none.
	Events() <-chan input.Message

	Close() error
}

// Open creates the backend selected by cfg.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.DisplayBackend {
	case config.BackendFbdev:
		return openFbdev(cfg)
	case config.BackendX11:
		return openX11(cfg)
	case config.BackendHeadless:
		return NewHeadless(cfg.Display.Width, cfg.Display.Height, cfg.Display.RefreshHz), nil
	default:
		return nil, fmt.Errorf("unknown display backend %q", cfg.DisplayBackend)
	}
}
