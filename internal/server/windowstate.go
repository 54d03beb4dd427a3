package server

import (
	"image"
	"image/color"
	stddraw "image/draw"
	"os"

	"github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"

	"github.com/quartzwm/quartz/internal/buffer"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/ipc"
	"github.com/quartzwm/quartz/internal/wire"
)

// serverSurface is the service half of one window's surface: the minted
// handle, the allocated slots and the consumer end of the buffer queue.
type serverSurface struct {
	handle   wire.Handle
	ids      []wire.BufferId
	slotSize int32
	format   wire.PixelFormat
	width    int32
	height   int32
	consumer *buffer.Consumer
}

func (s *serverSurface) destroy() {
	if s == nil {
		return
	}
	s.consumer.Close()
	for _, id := range s.ids {
		if id.Name != "" {
			os.Remove(id.Name)
		}
	}
}

// windowNode is the window's compositor-side layer state. Pending fields
// arrive via transactions and commit at the start of the next composition
// pass.
type windowNode struct {
	x, y  int32
	alpha float32
	crop  *wire.Rect

	pendingFlags uint32
	pendingX     int32
	pendingY     int32
	pendingAlpha float32
	pendingCrop  wire.Rect
}

func (n *windowNode) commit() {
	if n.pendingFlags&wire.LayerPositionChanged != 0 {
		n.x, n.y = n.pendingX, n.pendingY
	}
	if n.pendingFlags&wire.LayerAlphaChanged != 0 {
		n.alpha = n.pendingAlpha
	}
	if n.pendingFlags&wire.LayerBufferCropChanged != 0 {
		crop := n.pendingCrop
		n.crop = &crop
	}
	n.pendingFlags = 0
}

// WindowState is the authoritative per-window record on the service side.
// Everything here runs on the service loop.
type WindowState struct {
	service *Service
	conn    *ipc.ClientConn
	handle  wire.Handle
	token   *WindowToken

	params     wire.LayoutParams
	visibility bool

	vsyncRequest wire.VsyncRequest
	frameSeq     int32

	requestedWidth  int32
	requestedHeight int32

	surface    *serverSurface
	dispatcher *input.Channel
	node       windowNode

	removed bool
}

func newWindowState(s *Service, conn *ipc.ClientConn, handle wire.Handle,
	token *WindowToken, params wire.LayoutParams, visible bool) *WindowState {
	return &WindowState{
		service:      s,
		conn:         conn,
		handle:       handle,
		token:        token,
		params:       params,
		visibility:   visible,
		vsyncRequest: wire.VsyncNone,
		node:         windowNode{x: params.X, y: params.Y, alpha: 1.0},
	}
}

// scheduleVsync updates the standing request. Returns false when the
// request already matches (not rescheduled).
func (w *WindowState) scheduleVsync(req wire.VsyncRequest) bool {
	if w.vsyncRequest == req {
		return false
	}
	w.vsyncRequest = req
	return true
}

// onVsync delivers one frame tick. Hidden windows and windows without a
// standing request are skipped; single requests are consumed.
func (w *WindowState) onVsync() bool {
	if w.vsyncRequest == wire.VsyncNone || !w.visibility {
		return false
	}
	w.vsyncRequest = w.vsyncRequest.Next()
	w.frameSeq++
	w.conn.SendEvent(wire.EventOnFrame, wire.OnFrameEvent{Window: w.handle, Seq: w.frameSeq})
	return true
}

// sendAppVisibilityToClient pulls the token's visibility onto the window
// and notifies the client. Hiding cancels any outstanding vsync request.
func (w *WindowState) sendAppVisibilityToClient() {
	w.visibility = w.token.isClientVisible()
	if !w.visibility {
		w.scheduleVsync(wire.VsyncNone)
	}
	w.conn.SendEvent(wire.EventAppVisibility, wire.AppVisibilityEvent{
		Window:  w.handle,
		Visible: w.visibility,
	})
}

func (w *WindowState) setRequestedSize(width, height int32) {
	if w.requestedWidth != width || w.requestedHeight != height {
		w.requestedWidth = width
		w.requestedHeight = height
	}
}

// layoutSize returns the surface size for the next relayout, preferring
// the client's requested size when it differs from the layout params.
func (w *WindowState) layoutSize() (int32, int32) {
	width, height := w.params.Width, w.params.Height
	if w.requestedWidth > 0 && w.requestedWidth != width {
		width = w.requestedWidth
	}
	if w.requestedHeight > 0 && w.requestedHeight != height {
		height = w.requestedHeight
	}
	return width, height
}

// destroySurfaceControl drains and unmaps the buffer queue and cancels any
// outstanding vsync request.
func (w *WindowState) destroySurfaceControl() {
	w.scheduleVsync(wire.VsyncNone)
	if w.surface != nil {
		w.surface.destroy()
		w.surface = nil
	}
}

// applyTransaction stages one layer-state diff. Property order is fixed:
// position, alpha, buffer, buffer crop. The buffer reference syncs the
// consumer's queued state immediately; everything else commits at the next
// composition pass.
func (w *WindowState) applyTransaction(st wire.LayerState) {
	if st.Flags&wire.LayerPositionChanged != 0 {
		w.node.pendingFlags |= wire.LayerPositionChanged
		w.node.pendingX, w.node.pendingY = st.X, st.Y
		// Informational only; clients may hook it, layout is unaffected.
		w.conn.SendEvent(wire.EventMoved, wire.MovedEvent{Window: w.handle, X: st.X, Y: st.Y})
	}
	if st.Flags&wire.LayerAlphaChanged != 0 {
		w.node.pendingFlags |= wire.LayerAlphaChanged
		w.node.pendingAlpha = st.Alpha
	}
	if st.Flags&wire.LayerBufferChanged != 0 {
		if w.surface == nil {
			return
		}
		if _, err := w.surface.consumer.SyncQueued(st.BufferKey); err != nil {
			logrus.WithError(err).WithField("window", w.handle).Warn("transaction names unknown buffer")
			return
		}
	}
	if st.Flags&wire.LayerBufferCropChanged != 0 {
		w.node.pendingFlags |= wire.LayerBufferCropChanged
		w.node.pendingCrop = st.BufferCrop
	}
}

// composite commits pending layer state and, when a fresh buffer is
// queued, draws it onto dst and releases it back to the client. Reports
// whether anything was drawn.
func (w *WindowState) composite(dst *image.RGBA) bool {
	w.node.commit()

	if !w.visibility || w.surface == nil {
		return false
	}
	item := w.surface.consumer.Acquire()
	if item == nil {
		return false
	}

	w.blit(dst, item)

	if err := w.surface.consumer.Release(item); err != nil {
		logrus.WithError(err).Warn("buffer release failed")
		return true
	}
	w.conn.SendEvent(wire.EventBufferReleased, wire.BufferReleasedEvent{
		Window: w.handle,
		Key:    item.Key,
	})
	return true
}

// blit draws one acquired buffer at the node position, honoring crop and
// alpha.
func (w *WindowState) blit(dst *image.RGBA, item *buffer.Item) {
	src := w.surface.wrap(item)
	if src == nil {
		return
	}

	bounds := src.Bounds()
	if w.node.crop != nil && !w.node.crop.Empty() {
		crop := image.Rect(
			int(w.node.crop.X), int(w.node.crop.Y),
			int(w.node.crop.X+w.node.crop.W), int(w.node.crop.Y+w.node.crop.H),
		)
		bounds = bounds.Intersect(crop)
	}

	target := image.Rect(
		int(w.node.x), int(w.node.y),
		int(w.node.x)+bounds.Dx(), int(w.node.y)+bounds.Dy(),
	)

	if w.node.alpha < 1.0 {
		mask := image.NewUniform(color.Alpha{A: uint8(w.node.alpha * 255)})
		stddraw.DrawMask(dst, target, src, bounds.Min, mask, image.Point{}, stddraw.Over)
		return
	}
	xdraw.Draw(dst, target, src, bounds.Min, xdraw.Src)
}

// wrap views a slot's shared memory as an image.
func (s *serverSurface) wrap(item *buffer.Item) image.Image {
	w, h := int(s.width), int(s.height)
	stride := int(s.format.Stride(s.width))
	switch s.format {
	case wire.FormatRGBA8888:
		return &image.RGBA{Pix: item.Data, Stride: stride, Rect: image.Rect(0, 0, w, h)}
	case wire.FormatRGB565:
		// Converted lazily; 565 windows pay a per-frame expansion.
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			row := item.Data[y*stride:]
			for x := 0; x < w; x++ {
				pix := uint16(row[x*2]) | uint16(row[x*2+1])<<8
				img.SetRGBA(x, y, color.RGBA{
					R: uint8(pix>>11) << 3,
					G: uint8(pix>>5&0x3f) << 2,
					B: uint8(pix&0x1f) << 3,
					A: 0xff,
				})
			}
		}
		return img
	case wire.FormatRGB888:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			row := item.Data[y*stride:]
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, color.RGBA{R: row[x*3], G: row[x*3+1], B: row[x*3+2], A: 0xff})
			}
		}
		return img
	default:
		return nil
	}
}

// sendInputMessage forwards one event into the window's channel.
func (w *WindowState) sendInputMessage(msg *input.Message) bool {
	if w.dispatcher == nil {
		logrus.WithField("window", w.handle).Warn("input message: no input channel")
		return false
	}
	return w.dispatcher.Send(msg) == nil
}

// contains reports whether the display point hits the window.
func (w *WindowState) contains(x, y int32) bool {
	width, height := w.layoutSize()
	return x >= w.node.x && x < w.node.x+width && y >= w.node.y && y < w.node.y+height
}

func (w *WindowState) info() wire.WindowInfo {
	return wire.WindowInfo{
		Window:     w.handle,
		Token:      w.token.handle,
		Params:     w.params,
		Visible:    w.visibility,
		HasSurface: w.surface != nil,
		HasInput:   w.dispatcher != nil,
		Vsync:      w.vsyncRequest,
		FrameSeq:   w.frameSeq,
	}
}
