// Package wire defines the typed request/reply/event surface exchanged
// between the quartz service and its clients, and the framing used to carry
// it over a unix stream socket with attached file descriptors.
package wire

import "fmt"

// Handle is an opaque identity for tokens, windows and surfaces. Clients
// mint token and window handles; the service mints surface handles.
type Handle string

// Status is the result code carried on every reply.
type Status string

const (
	StatusOK                    Status = "ok"
	StatusDuplicateRegistration Status = "duplicate_registration"
	StatusUnknownHandle         Status = "unknown_handle"
	StatusLimitExceeded         Status = "limit_exceeded"
	StatusAllocationFailure     Status = "allocation_failure"
	StatusInvalidRequest        Status = "invalid_request"
)

// Rect is a rectangle in surface or screen coordinates.
type Rect struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	W int32 `json:"w"`
	H int32 `json:"h"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// PixelFormat identifies the pixel layout of a surface.
type PixelFormat int32

const (
	FormatRGBA8888 PixelFormat = iota
	FormatRGB888
	FormatRGB565
)

// BytesPerPixel returns the storage size of one pixel.
func (f PixelFormat) BytesPerPixel() int32 {
	switch f {
	case FormatRGB565:
		return 2
	case FormatRGB888:
		return 3
	default:
		return 4
	}
}

// Stride returns the per-row byte count for the given width, rounded up to
// 4-byte alignment.
func (f PixelFormat) Stride(width int32) int32 {
	stride := width * f.BytesPerPixel()
	return (stride + 3) &^ 3
}

// BufferBytes returns the slot size for a width x height surface.
func (f PixelFormat) BufferBytes(width, height int32) int32 {
	return f.Stride(width) * height
}

// Window flags.
const (
	FlagInputEnabled int32 = 1 << 0
)

// LayoutParams describes a window's requested layout.
type LayoutParams struct {
	X      int32       `json:"x"`
	Y      int32       `json:"y"`
	Width  int32       `json:"width"`
	Height int32       `json:"height"`
	Format PixelFormat `json:"format"`
	Type   int32       `json:"type"`
	Flags  int32       `json:"flags"`
	Token  Handle      `json:"token"`
}

// HasInput reports whether the window requests an input channel.
func (p LayoutParams) HasInput() bool { return p.Flags&FlagInputEnabled != 0 }

// VsyncRequest is a window's standing frame-tick request.
type VsyncRequest int32

const (
	VsyncNone VsyncRequest = iota
	VsyncSingle
	VsyncPeriodic
)

// Next returns the request state after one vsync fires: single requests are
// consumed, periodic requests re-arm.
func (v VsyncRequest) Next() VsyncRequest {
	if v == VsyncSingle {
		return VsyncNone
	}
	return v
}

func (v VsyncRequest) String() string {
	switch v {
	case VsyncSingle:
		return "single"
	case VsyncPeriodic:
		return "periodic"
	default:
		return "none"
	}
}

// DisplayInfo describes the primary display.
type DisplayInfo struct {
	Width     int32 `json:"width"`
	Height    int32 `json:"height"`
	RefreshHz int32 `json:"refresh_hz"`
}

// BufferId identifies one shared-memory slot of a surface. Fd indexes into
// the descriptors attached to the carrying message, or is -1 when the slot
// travels by name only (buffer_queue_by_name).
type BufferId struct {
	Name string `json:"name,omitempty"`
	Key  int32  `json:"key"`
	Fd   int    `json:"fd"`
}

// SurfaceControlInfo is the wire form of a SurfaceControl.
type SurfaceControlInfo struct {
	Token     Handle      `json:"token"`
	Surface   Handle      `json:"surface"`
	Width     int32       `json:"width"`
	Height    int32       `json:"height"`
	Format    PixelFormat `json:"format"`
	BufferIds []BufferId  `json:"buffer_ids"`
}

// Valid reports whether the info names a live surface.
func (s *SurfaceControlInfo) Valid() bool {
	return s != nil && s.Surface != "" && len(s.BufferIds) > 0
}

// InputChannelInfo is the wire form of an input channel endpoint. Fd indexes
// into the attached descriptors.
type InputChannelInfo struct {
	Name string `json:"name"`
	Fd   int    `json:"fd"`
}

// LayerState change flags.
const (
	LayerPositionChanged   uint32 = 1 << 0
	LayerAlphaChanged      uint32 = 1 << 1
	LayerBufferChanged     uint32 = 1 << 2
	LayerBufferCropChanged uint32 = 1 << 3
)

// LayerState is one entry of a surface transaction: a diff of layer
// properties addressed by the owning window token.
type LayerState struct {
	Token      Handle  `json:"token"`
	Flags      uint32  `json:"flags"`
	X          int32   `json:"x,omitempty"`
	Y          int32   `json:"y,omitempty"`
	Alpha      float32 `json:"alpha,omitempty"`
	BufferKey  int32   `json:"buffer_key,omitempty"`
	BufferCrop Rect    `json:"buffer_crop,omitempty"`
}

// WindowInfo is the control-plane description of one window.
type WindowInfo struct {
	Window     Handle       `json:"window"`
	Token      Handle       `json:"token"`
	Params     LayoutParams `json:"params"`
	Visible    bool         `json:"visible"`
	HasSurface bool         `json:"has_surface"`
	HasInput   bool         `json:"has_input"`
	Vsync      VsyncRequest `json:"vsync"`
	FrameSeq   int32        `json:"frame_seq"`
}

// TokenInfo is the control-plane description of one window token.
type TokenInfo struct {
	Token         Handle `json:"token"`
	Type          int32  `json:"type"`
	DisplayId     int32  `json:"display_id"`
	ClientVisible bool   `json:"client_visible"`
	WindowCount   int    `json:"window_count"`
}

// StatusData is the control-plane service status snapshot.
type StatusData struct {
	UptimeSeconds int64       `json:"uptime_seconds"`
	WindowCount   int         `json:"window_count"`
	TokenCount    int         `json:"token_count"`
	MonitorCount  int         `json:"monitor_count"`
	WindowLimit   int         `json:"window_limit"`
	VsyncActive   bool        `json:"vsync_active"`
	FramesDrawn   int64       `json:"frames_drawn"`
	LastToast     string      `json:"last_toast,omitempty"`
	Display       DisplayInfo `json:"display"`
}

// Error converts a non-ok status plus message into an error value.
func (s Status) Error(msg string) error {
	if s == StatusOK {
		return nil
	}
	if msg == "" {
		return fmt.Errorf("service returned %s", s)
	}
	return fmt.Errorf("service returned %s: %s", s, msg)
}
