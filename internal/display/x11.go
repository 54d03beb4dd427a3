package display

import (
	"fmt"
	"image"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/sirupsen/logrus"

	"github.com/quartzwm/quartz/internal/config"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/wire"
)

// X11 hosts the composited display inside an X window. It is the
// development backend: the service runs unchanged while the "framebuffer"
// is a desktop window, and X pointer/key events feed the input dispatch
// path.
type X11 struct {
	xu     *xgbutil.XUtil
	win    xproto.Window
	gc     xproto.Gcontext
	depth  byte
	maxReq int
	info   wire.DisplayInfo
	events chan input.Message

	pressed bool
}

func openX11(cfg *config.Config) (*X11, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}

	width := uint16(cfg.Display.Width)
	height := uint16(cfg.Display.Height)
	screen := xu.Screen()

	win, err := xproto.NewWindowId(xu.Conn())
	if err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to allocate window id: %w", err)
	}
	mask := uint32(xproto.EventMaskButtonPress | xproto.EventMaskButtonRelease |
		xproto.EventMaskPointerMotion | xproto.EventMaskKeyPress |
		xproto.EventMaskKeyRelease | xproto.EventMaskExposure)
	err = xproto.CreateWindowChecked(xu.Conn(), screen.RootDepth, win, xu.RootWin(),
		0, 0, width, height, 1, xproto.WindowClassInputOutput, screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask, []uint32{0x000000, mask}).Check()
	if err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to create host window: %w", err)
	}

	title := []byte("quartz")
	xproto.ChangeProperty(xu.Conn(), xproto.PropModeReplace, win,
		xproto.AtomWmName, xproto.AtomString, 8, uint32(len(title)), title)

	gc, err := xproto.NewGcontextId(xu.Conn())
	if err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to allocate gc: %w", err)
	}
	if err := xproto.CreateGCChecked(xu.Conn(), gc, xproto.Drawable(win), 0, nil).Check(); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to create gc: %w", err)
	}

	xproto.MapWindow(xu.Conn(), win)

	setup := xproto.Setup(xu.Conn())
	b := &X11{
		xu:     xu,
		win:    win,
		gc:     gc,
		depth:  screen.RootDepth,
		maxReq: int(setup.MaximumRequestLength) * 4,
		info: wire.DisplayInfo{
			Width:     int32(cfg.Display.Width),
			Height:    int32(cfg.Display.Height),
			RefreshHz: int32(cfg.Display.RefreshHz),
		},
		events: make(chan input.Message, 64),
	}
	b.hookEvents()
	go xevent.Main(xu)

	logrus.WithFields(logrus.Fields{
		"width":  b.info.Width,
		"height": b.info.Height,
	}).Info("x11 host window mapped")
	return b, nil
}

func (b *X11) hookEvents() {
	now := func() uint64 { return uint64(time.Now().UnixNano()) }

	xevent.ButtonPressFun(func(xu *xgbutil.XUtil, ev xevent.ButtonPressEvent) {
		b.pressed = true
		b.push(input.Message{
			Type: input.TypePointer, State: input.StatePressed,
			X: int32(ev.EventX), Y: int32(ev.EventY), Timestamp: now(),
		})
	}).Connect(b.xu, b.win)

	xevent.ButtonReleaseFun(func(xu *xgbutil.XUtil, ev xevent.ButtonReleaseEvent) {
		b.pressed = false
		b.push(input.Message{
			Type: input.TypePointer, State: input.StateReleased,
			X: int32(ev.EventX), Y: int32(ev.EventY), Timestamp: now(),
		})
	}).Connect(b.xu, b.win)

	xevent.MotionNotifyFun(func(xu *xgbutil.XUtil, ev xevent.MotionNotifyEvent) {
		state := input.StateReleased
		if b.pressed {
			state = input.StatePressed
		}
		b.push(input.Message{
			Type: input.TypePointer, State: state,
			X: int32(ev.EventX), Y: int32(ev.EventY), Timestamp: now(),
		})
	}).Connect(b.xu, b.win)

	xevent.KeyPressFun(func(xu *xgbutil.XUtil, ev xevent.KeyPressEvent) {
		b.push(input.Message{
			Type: input.TypeKey, State: input.StatePressed,
			Code: uint32(ev.Detail), Timestamp: now(),
		})
	}).Connect(b.xu, b.win)

	xevent.KeyReleaseFun(func(xu *xgbutil.XUtil, ev xevent.KeyReleaseEvent) {
		b.push(input.Message{
			Type: input.TypeKey, State: input.StateReleased,
			Code: uint32(ev.Detail), Timestamp: now(),
		})
	}).Connect(b.xu, b.win)
}

func (b *X11) push(msg input.Message) {
	select {
	case b.events <- msg:
	default:
		logrus.Debug("x11 input backlog full, dropping event")
	}
}

func (b *X11) Info() wire.DisplayInfo { return b.info }

// VsyncFd is always -1: the X backend paces with the refresh timer.
func (b *X11) VsyncFd() int { return -1 }

func (b *X11) Post(frame *image.RGBA) error {
	w := int(b.info.Width)
	h := int(b.info.Height)

	// PutImage requests are bounded; push the frame in row chunks.
	rowBytes := w * 4
	maxRows := (b.maxReq - 64) / rowBytes
	if maxRows < 1 {
		maxRows = 1
	}

	data := make([]byte, rowBytes*maxRows)
	for y := 0; y < h; y += maxRows {
		rows := maxRows
		if y+rows > h {
			rows = h - y
		}
		// RGBA to X BGRX byte order.
		for r := 0; r < rows; r++ {
			src := frame.Pix[(y+r)*frame.Stride : (y+r)*frame.Stride+rowBytes]
			dst := data[r*rowBytes:]
			for x := 0; x < w; x++ {
				dst[x*4+0] = src[x*4+2]
				dst[x*4+1] = src[x*4+1]
				dst[x*4+2] = src[x*4+0]
				dst[x*4+3] = 0xff
			}
		}
		xproto.PutImage(b.xu.Conn(), xproto.ImageFormatZPixmap,
			xproto.Drawable(b.win), b.gc,
			uint16(w), uint16(rows), 0, int16(y), 0,
			b.depth, data[:rowBytes*rows])
	}
	return nil
}

func (b *X11) Events() <-chan input.Message { return b.events }

func (b *X11) Close() error {
	xevent.Quit(b.xu)
	b.xu.Conn().Close()
	return nil
}
