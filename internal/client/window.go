package client

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/quartzwm/quartz/internal/buffer"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/surface"
	"github.com/quartzwm/quartz/internal/wire"
)

// BaseWindow is the client-side window. Service callbacks land on the
// transport goroutine and trampoline onto the client loop; only the
// frameDone flag is touched cross-thread.
type BaseWindow struct {
	wm     *WindowManager
	handle wire.Handle
	params wire.LayoutParams

	appVisible   bool
	vsyncRequest wire.VsyncRequest

	// frameDone gates the frame pipeline: at most one handleOnFrame in
	// flight. Late vsync ticks are dropped, never queued.
	frameDone atomic.Bool

	surfaceControl *surface.Control
	producer       *buffer.Producer
	proxy          UIDriverProxy

	inputChannel   *input.Channel
	stopInputWatch func()

	// Moved and Resized are informational hook points; the service's
	// geometry callbacks do not re-drive layout.
	Moved   func(x, y int32)
	Resized func(frame wire.Rect, displayId int32)

	attached bool
	dead     bool
}

func newBaseWindow(wm *WindowManager, handle wire.Handle, params wire.LayoutParams) *BaseWindow {
	w := &BaseWindow{
		wm:           wm,
		handle:       handle,
		params:       params,
		vsyncRequest: wire.VsyncNone,
	}
	w.frameDone.Store(true)
	return w
}

// Handle returns the window's wire handle.
func (w *BaseWindow) Handle() wire.Handle { return w.handle }

// LayoutParams returns the current layout params.
func (w *BaseWindow) LayoutParams() wire.LayoutParams { return w.params }

// SetLayoutParams updates the params used by the next relayout.
func (w *BaseWindow) SetLayoutParams(params wire.LayoutParams) { w.params = params }

// SetUIProxy installs the drawing toolkit seam.
func (w *BaseWindow) SetUIProxy(proxy UIDriverProxy) { w.proxy = proxy }

// Visible reports the window's app visibility.
func (w *BaseWindow) Visible() bool { return w.appVisible }

// SurfaceControl returns the current surface, nil before the first
// visible relayout.
func (w *BaseWindow) SurfaceControl() *surface.Control { return w.surfaceControl }

// ScheduleVsync updates the standing vsync request with the service.
// Returns false without a round trip when the request already matches.
func (w *BaseWindow) ScheduleVsync(req wire.VsyncRequest) bool {
	if w.vsyncRequest == req {
		logrus.Debug("vsync request unchanged, not rescheduled")
		return false
	}
	w.vsyncRequest = req
	if err := w.wm.requestVsync(w, req); err != nil {
		logrus.WithError(err).Warn("vsync request failed")
		return false
	}
	return true
}

// onFrame runs on the transport goroutine. The frameDone gate drops late
// ticks before they cost a loop task; the handler itself runs on the loop.
func (w *BaseWindow) onFrame(seq int32) {
	if !w.frameDone.Load() {
		logrus.WithFields(logrus.Fields{"window": w.handle, "seq": seq}).
			Warn("onFrame while previous frame in flight, dropping")
		return
	}
	w.frameDone.Store(false)
	if !w.wm.loop.Post(func() {
		w.handleOnFrame(seq)
		w.frameDone.Store(true)
	}) {
		w.frameDone.Store(true)
	}
}

// handleOnFrame is the frame path: dequeue, draw, queue, transact.
func (w *BaseWindow) handleOnFrame(seq int32) {
	if w.dead {
		return
	}
	w.vsyncRequest = w.vsyncRequest.Next()

	if !w.surfaceControl.Valid() {
		// No surface yet: lay out now; drawing starts next tick.
		if err := w.wm.RelayoutWindow(w); err != nil {
			logrus.WithError(err).Warn("relayout failed")
		}
		return
	}
	if w.proxy == nil || w.producer == nil {
		return
	}

	item := w.producer.Dequeue()
	if item == nil {
		logrus.WithFields(logrus.Fields{"window": w.handle, "seq": seq}).
			Warn("onFrame with no free buffer")
		return
	}
	w.proxy.OnDequeueBuffer(item)
	w.proxy.DrawFrame(item)
	if !w.proxy.FinishDrawing() {
		if err := w.producer.Cancel(item); err != nil {
			logrus.WithError(err).Warn("buffer cancel failed")
		}
		return
	}
	if err := w.producer.Queue(item); err != nil {
		logrus.WithError(err).Warn("buffer queue failed")
		return
	}

	tx := w.wm.Transaction()
	tx.SetBuffer(w.surfaceControl, item.Key)
	if crop := w.proxy.RectCrop(); crop != nil {
		tx.SetBufferCrop(w.surfaceControl, *crop)
	}
	if err := tx.Apply(); err != nil {
		logrus.WithError(err).Warn("transaction apply failed")
	}
}

// handleBufferReleased returns a consumed slot to the free pool.
func (w *BaseWindow) handleBufferReleased(key int32) {
	if w.producer == nil {
		logrus.WithField("window", w.handle).Warn("buffer released without a producer")
		return
	}
	if _, err := w.producer.SyncFree(key); err != nil {
		logrus.WithError(err).WithField("key", key).Error("buffer release failed")
	}
}

// handleAppVisibility reacts to the service's visibility push: relayout
// creates the surface when shown and destroys it when hidden.
func (w *BaseWindow) handleAppVisibility(visible bool) {
	if w.appVisible == visible {
		return
	}
	w.appVisible = visible
	if !visible {
		w.vsyncRequest = wire.VsyncNone
	}
	if err := w.wm.RelayoutWindow(w); err != nil {
		logrus.WithError(err).Warn("relayout on visibility change failed")
	}
	if w.proxy != nil {
		w.proxy.UpdateVisibility(visible)
	}
}

// setSurfaceControl installs the relayout result: nil drops the surface,
// an identical slot set keeps the producer, otherwise the queue is
// rebuilt.
func (w *BaseWindow) setSurfaceControl(sc *surface.Control) error {
	if sc == nil {
		w.dropSurface()
		return nil
	}
	if w.surfaceControl.Valid() && w.surfaceControl.SameBuffers(sc) && w.producer != nil {
		w.surfaceControl = sc
		return nil
	}

	w.dropSurface()
	producer, err := buffer.NewProducer(sc.BufferIds, sc.SlotSize())
	if err != nil {
		return err
	}
	w.surfaceControl = sc
	w.producer = producer
	if w.proxy != nil {
		w.proxy.UpdateResolution(sc.Width, sc.Height, sc.Format)
	}
	return nil
}

func (w *BaseWindow) dropSurface() {
	if w.proxy != nil && w.producer != nil {
		w.proxy.ResetBuffer()
	}
	if w.producer != nil {
		w.producer.Close()
		w.producer = nil
	}
	w.surfaceControl = nil
}

// setInputChannel installs the channel returned by addWindow and wires
// its readability into the loop.
func (w *BaseWindow) setInputChannel(ch *input.Channel) {
	if ch == nil || !ch.Valid() {
		return
	}
	w.inputChannel = ch
	w.stopInputWatch = w.wm.loop.Watch(ch.ReadFd(), func() {
		for {
			msg, err := ch.Recv()
			if err != nil || msg == nil {
				return
			}
			if w.proxy != nil {
				w.proxy.HandleEvent(msg)
			}
		}
	})
}

// Producer exposes the producer half of the window's buffer queue, nil
// without a surface. Drivers normally go through the frame path; direct
// access serves tooling and tests.
func (w *BaseWindow) Producer() *buffer.Producer { return w.producer }

// ProducerStates reports the producer half's slot states, nil without a
// surface. Introspection hook.
func (w *BaseWindow) ProducerStates() map[int32]buffer.SlotState {
	if w.producer == nil {
		return nil
	}
	return w.producer.States()
}

// doDie releases everything client-side. The service-side teardown runs
// via removeWindow or the death recipient.
func (w *BaseWindow) doDie() {
	if w.dead {
		return
	}
	w.dead = true
	if w.stopInputWatch != nil {
		w.stopInputWatch()
		w.stopInputWatch = nil
	}
	if w.inputChannel != nil {
		w.inputChannel.Release()
		w.inputChannel = nil
	}
	w.dropSurface()
}
