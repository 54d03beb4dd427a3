package display

import (
	"image"
	"sync"

	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/wire"
)

// Headless is an in-memory display used by tests and by service runs on
// machines with no output hardware.
type Headless struct {
	info wire.DisplayInfo

	mu     sync.Mutex
	posted int64
	frame  *image.RGBA
}

// NewHeadless creates a headless display of the given geometry.
func NewHeadless(width, height, refreshHz int) *Headless {
	return &Headless{
		info: wire.DisplayInfo{
			Width:     int32(width),
			Height:    int32(height),
			RefreshHz: int32(refreshHz),
		},
	}
}

func (h *Headless) Info() wire.DisplayInfo { return h.info }

func (h *Headless) VsyncFd() int { return -1 }

func (h *Headless) Post(frame *image.RGBA) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.posted++
	h.frame = frame
	return nil
}

func (h *Headless) Events() <-chan input.Message { return nil }

func (h *Headless) Close() error { return nil }

// Frame returns the last posted frame. Test hook.
func (h *Headless) Frame() *image.RGBA {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// Posted returns how many frames were presented. Test hook.
func (h *Headless) Posted() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.posted
}
