package display

import (
	"fmt"
	"image"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quartzwm/quartz/internal/config"
	"github.com/quartzwm/quartz/internal/input"
	"github.com/quartzwm/quartz/internal/wire"
)

const (
	fbioGetVScreenInfo = 0x4600
	fbioGetFScreenInfo = 0x4602
)

type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MsbRight uint32
}

type fbVarScreenInfo struct {
	XRes         uint32
	YRes         uint32
	XResVirtual  uint32
	YResVirtual  uint32
	XOffset      uint32
	YOffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	Red          fbBitfield
	Green        fbBitfield
	Blue         fbBitfield
	Transp       fbBitfield
	NonStd       uint32
	Activate     uint32
	HeightMm     uint32
	WidthMm      uint32
	AccelFlags   uint32
	PixClock     uint32
	LeftMargin   uint32
	RightMargin  uint32
	UpperMargin  uint32
	LowerMargin  uint32
	HsyncLen     uint32
	VsyncLen     uint32
	Sync         uint32
	Vmode        uint32
	Rotate       uint32
	Colorspace   uint32
	Reserved     [4]uint32
}

type fbFixScreenInfo struct {
	Id         [16]byte
	SmemStart  uintptr
	SmemLen    uint32
	Type       uint32
	TypeAux    uint32
	Visual     uint32
	XPanStep   uint16
	YPanStep   uint16
	YWrapStep  uint16
	LineLength uint32
	MmioStart  uintptr
	MmioLen    uint32
	Accel      uint32
	Caps       uint16
	Reserved   [2]uint16
}

// Fbdev drives a framebuffer device. The device fd doubles as the vsync
// source where the platform signals refresh through readability.
type Fbdev struct {
	fd        int
	mem       []byte
	info      wire.DisplayInfo
	bpp       int
	stride    int
	useFdSync bool
}

func openFbdev(cfg *config.Config) (*Fbdev, error) {
	fd, err := unix.Open(cfg.FbdevDevicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open framebuffer %q: %w", cfg.FbdevDevicePath, err)
	}

	var varInfo fbVarScreenInfo
	if err := fbIoctl(fd, fbioGetVScreenInfo, unsafe.Pointer(&varInfo)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to read framebuffer geometry: %w", err)
	}
	var fixInfo fbFixScreenInfo
	if err := fbIoctl(fd, fbioGetFScreenInfo, unsafe.Pointer(&fixInfo)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to read framebuffer layout: %w", err)
	}

	if varInfo.BitsPerPixel != 16 && varInfo.BitsPerPixel != 32 {
		unix.Close(fd)
		return nil, fmt.Errorf("unsupported framebuffer depth %d bpp", varInfo.BitsPerPixel)
	}

	size := int(fixInfo.SmemLen)
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to map framebuffer: %w", err)
	}

	refresh := cfg.Display.RefreshHz
	if refresh <= 0 {
		refresh = config.DefaultRefreshHz
	}

	b := &Fbdev{
		fd:  fd,
		mem: mem,
		info: wire.DisplayInfo{
			Width:     int32(varInfo.XRes),
			Height:    int32(varInfo.YRes),
			RefreshHz: int32(refresh),
		},
		bpp:       int(varInfo.BitsPerPixel) / 8,
		stride:    int(fixInfo.LineLength),
		useFdSync: cfg.DisplaySyncMode == config.SyncModeVsyncFd,
	}
	logrus.WithFields(logrus.Fields{
		"device": cfg.FbdevDevicePath,
		"width":  b.info.Width,
		"height": b.info.Height,
		"bpp":    varInfo.BitsPerPixel,
	}).Info("framebuffer opened")
	return b, nil
}

func fbIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (b *Fbdev) Info() wire.DisplayInfo { return b.info }

func (b *Fbdev) VsyncFd() int {
	if b.useFdSync {
		return b.fd
	}
	return -1
}

func (b *Fbdev) Post(frame *image.RGBA) error {
	w := int(b.info.Width)
	h := int(b.info.Height)
	if frame.Rect.Dx() < w {
		w = frame.Rect.Dx()
	}
	if frame.Rect.Dy() < h {
		h = frame.Rect.Dy()
	}

	switch b.bpp {
	case 4:
		for y := 0; y < h; y++ {
			src := frame.Pix[y*frame.Stride : y*frame.Stride+w*4]
			dst := b.mem[y*b.stride : y*b.stride+w*4]
			// RGBA to XRGB little-endian (BGRA byte order).
			for x := 0; x < w; x++ {
				dst[x*4+0] = src[x*4+2]
				dst[x*4+1] = src[x*4+1]
				dst[x*4+2] = src[x*4+0]
				dst[x*4+3] = 0xff
			}
		}
	case 2:
		for y := 0; y < h; y++ {
			src := frame.Pix[y*frame.Stride:]
			dst := b.mem[y*b.stride:]
			for x := 0; x < w; x++ {
				r, g, bl := src[x*4], src[x*4+1], src[x*4+2]
				pix := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(bl>>3)
				dst[x*2] = byte(pix)
				dst[x*2+1] = byte(pix >> 8)
			}
		}
	}
	return nil
}

func (b *Fbdev) Events() <-chan input.Message { return nil }

func (b *Fbdev) Close() error {
	if b.mem != nil {
		unix.Munmap(b.mem)
		b.mem = nil
	}
	if b.fd >= 0 {
		unix.Close(b.fd)
		b.fd = -1
	}
	return nil
}
