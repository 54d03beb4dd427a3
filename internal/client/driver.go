// Package client implements the in-process window runtime: the service
// proxy, the client-side window and the seam to the drawing toolkit.
package client

import (
	"image"
	"image/color"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/quartzwm/quartz/internal/buffer"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/wire"
)

// UIDriverProxy is the capability set a drawing toolkit exposes to the
// windowing core. Implementations may hang an opaque cookie off a
// BufferItem on first dequeue and rely on it surviving later dequeues of
// the same slot; ResetBuffer releases every cookie when the surface goes
// away.
type UIDriverProxy interface {
	// OnDequeueBuffer prepares a freshly dequeued slot for drawing.
	OnDequeueBuffer(item *buffer.Item)
	// DrawFrame renders the next frame into the slot.
	DrawFrame(item *buffer.Item)
	// FinishDrawing reports whether the frame should be presented; false
	// cancels the buffer (nothing dirty).
	FinishDrawing() bool
	// RectCrop returns the buffer crop for the presenting transaction,
	// or nil for full-buffer presentation.
	RectCrop() *wire.Rect
	// HandleEvent consumes one input message.
	HandleEvent(msg *input.Message)
	// UpdateResolution tracks surface geometry changes.
	UpdateResolution(width, height int32, format wire.PixelFormat)
	// UpdateVisibility tracks window visibility changes.
	UpdateVisibility(visible bool)
	// ResetBuffer drops all per-slot cookies.
	ResetBuffer()
}

// DummyDriver is the test driver: it fills frames with a solid color and
// exercises the cookie contract.
type DummyDriver struct {
	Color color.RGBA
	// Finish controls FinishDrawing; a driver that declines leaves the
	// frame uncommitted.
	Finish bool
	Crop   *wire.Rect
	// DrawDelay simulates a slow toolkit; overrun tests lean on it.
	DrawDelay time.Duration

	width  int32
	height int32
	format wire.PixelFormat

	// mu guards the observation counters; tests poll them from outside
	// the client loop.
	mu      sync.Mutex
	frames  int
	events  []input.Message
	visible bool
}

// dummyCookie is the per-slot descriptor the dummy driver attaches.
type dummyCookie struct {
	prepared int
	draws    int
}

// NewDummyDriver creates a driver that always finishes its frames.
func NewDummyDriver(c color.RGBA) *DummyDriver {
	return &DummyDriver{Color: c, Finish: true}
}

func (d *DummyDriver) OnDequeueBuffer(item *buffer.Item) {
	cookie, ok := item.Cookie.(*dummyCookie)
	if !ok {
		cookie = &dummyCookie{}
		item.Cookie = cookie
	}
	cookie.prepared++
}

func (d *DummyDriver) DrawFrame(item *buffer.Item) {
	if d.DrawDelay > 0 {
		time.Sleep(d.DrawDelay)
	}
	if cookie, ok := item.Cookie.(*dummyCookie); ok {
		cookie.draws++
	}
	if d.format != wire.FormatRGBA8888 {
		d.bumpFrames()
		return
	}
	stride := d.format.Stride(d.width)
	for y := int32(0); y < d.height; y++ {
		row := item.Data[y*stride : y*stride+d.width*4]
		for x := int32(0); x < d.width; x++ {
			row[x*4+0] = d.Color.R
			row[x*4+1] = d.Color.G
			row[x*4+2] = d.Color.B
			row[x*4+3] = d.Color.A
		}
	}
	d.bumpFrames()
}

func (d *DummyDriver) bumpFrames() {
	d.mu.Lock()
	d.frames++
	d.mu.Unlock()
}

func (d *DummyDriver) FinishDrawing() bool { return d.Finish }

func (d *DummyDriver) RectCrop() *wire.Rect { return d.Crop }

func (d *DummyDriver) HandleEvent(msg *input.Message) {
	d.mu.Lock()
	d.events = append(d.events, *msg)
	d.mu.Unlock()
}

func (d *DummyDriver) UpdateResolution(width, height int32, format wire.PixelFormat) {
	d.width, d.height, d.format = width, height, format
}

func (d *DummyDriver) UpdateVisibility(visible bool) { d.visible = visible }

func (d *DummyDriver) ResetBuffer() {}

// Frames reports how many frames were drawn. Test hook.
func (d *DummyDriver) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Events returns the input messages seen so far. Test hook.
func (d *DummyDriver) Events() []input.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]input.Message, len(d.events))
	copy(out, d.events)
	return out
}

// ImageDriver presents a client-supplied image; the demo subcommand uses
// it. A slot is redrawn only while it has not yet seen the current image,
// so an unchanged image eventually declines frames.
type ImageDriver struct {
	width  int32
	height int32
	format wire.PixelFormat

	img     image.Image
	painted map[int32]bool
	drew    bool
}

// NewImageDriver creates an image-presenting driver.
func NewImageDriver() *ImageDriver {
	return &ImageDriver{painted: make(map[int32]bool)}
}

// SetImage swaps the presented image; every slot becomes stale.
func (d *ImageDriver) SetImage(img image.Image) {
	d.img = img
	d.painted = make(map[int32]bool)
}

func (d *ImageDriver) OnDequeueBuffer(item *buffer.Item) {}

func (d *ImageDriver) DrawFrame(item *buffer.Item) {
	d.drew = false
	if d.img == nil || d.painted[item.Key] {
		return
	}
	dst := &image.RGBA{
		Pix:    item.Data,
		Stride: int(d.format.Stride(d.width)),
		Rect:   image.Rect(0, 0, int(d.width), int(d.height)),
	}
	xdraw.NearestNeighbor.Scale(dst, dst.Rect, d.img, d.img.Bounds(), xdraw.Src, nil)
	d.painted[item.Key] = true
	d.drew = true
}

func (d *ImageDriver) FinishDrawing() bool { return d.drew }

func (d *ImageDriver) RectCrop() *wire.Rect { return nil }

func (d *ImageDriver) HandleEvent(msg *input.Message) {}

func (d *ImageDriver) UpdateResolution(width, height int32, format wire.PixelFormat) {
	d.width, d.height, d.format = width, height, format
	d.painted = make(map[int32]bool)
}

func (d *ImageDriver) UpdateVisibility(visible bool) {}

func (d *ImageDriver) ResetBuffer() { d.painted = make(map[int32]bool) }
