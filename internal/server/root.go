package server

import (
	"image"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quartzwm/quartz/internal/display"
)

// RootContainer owns the vsync source and the composition pass. One per
// service, bound to the primary display.
type RootContainer struct {
	service *Service
	backend display.Backend
	frame   *image.RGBA
	period  time.Duration

	vsyncActive bool
	stopSource  func()
	stopInput   func()
}

func newRootContainer(s *Service, backend display.Backend) *RootContainer {
	info := backend.Info()
	refresh := info.RefreshHz
	if refresh <= 0 {
		refresh = 60
	}
	rc := &RootContainer{
		service: s,
		backend: backend,
		frame:   image.NewRGBA(image.Rect(0, 0, int(info.Width), int(info.Height))),
		period:  time.Second / time.Duration(refresh),
	}
	rc.startInputPump()
	return rc
}

// startInputPump forwards display-origin input onto the service loop.
func (rc *RootContainer) startInputPump() {
	events := rc.backend.Events()
	if events == nil {
		return
	}
	done := make(chan struct{})
	rc.stopInput = func() { close(done) }
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				rc.service.loop.Post(func() {
					rc.service.dispatchInput(&msg)
				})
			}
		}
	}()
}

// enableVsync arms the vsync source: fd readability where the backend
// provides one, a refresh-period timer otherwise.
func (rc *RootContainer) enableVsync() {
	if rc.vsyncActive {
		return
	}
	rc.vsyncActive = true

	if fd := rc.backend.VsyncFd(); fd >= 0 {
		rc.stopSource = rc.service.loop.Watch(fd, func() {
			// Consume the readiness token before compositing.
			var drain [8]byte
			unix.Read(fd, drain[:])
			rc.onVsyncTick()
		})
		logrus.Debug("vsync source enabled (fd)")
		return
	}

	done := make(chan struct{})
	rc.stopSource = func() { close(done) }
	go func() {
		ticker := time.NewTicker(rc.period)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rc.service.loop.Post(rc.onVsyncTick)
			}
		}
	}()
	logrus.WithField("period", rc.period).Debug("vsync source enabled (timer)")
}

// disableVsync stops the source. Cheap to call when already idle.
func (rc *RootContainer) disableVsync() {
	if !rc.vsyncActive {
		return
	}
	rc.vsyncActive = false
	if rc.stopSource != nil {
		rc.stopSource()
		rc.stopSource = nil
	}
	logrus.Debug("vsync source disabled")
}

// onVsyncTick runs one refresh: composite queued buffers, then fan the
// tick out to windows with standing requests. When nothing requests vsync
// afterwards, the source shuts off.
func (rc *RootContainer) onVsyncTick() {
	rc.drawFrame()
	rc.service.responseVsync()
	if !rc.service.anyVsyncRequested() {
		rc.disableVsync()
	}
}

// drawFrame is the composition pass: per window, commit pending layer
// state and latch the next queued buffer onto the backbuffer.
func (rc *RootContainer) drawFrame() {
	drew := false
	for _, win := range rc.service.order {
		if win.composite(rc.frame) {
			drew = true
		}
	}
	if drew {
		if err := rc.backend.Post(rc.frame); err != nil {
			logrus.WithError(err).Warn("frame post failed")
			return
		}
		rc.service.framesDrawn++
	}
}

func (rc *RootContainer) close() {
	rc.disableVsync()
	if rc.stopInput != nil {
		rc.stopInput()
		rc.stopInput = nil
	}
}
