// Package surface holds the client-visible surface handle and the batched
// layer-state transaction that updates it.
package surface

import (
	"github.com/quartzwm/quartz/internal/wire"
)

// Control bundles a surface's identity, geometry and buffer ids. The
// service mints the surface handle on relayout; the buffer queue halves
// attach process-locally in the client and server packages.
type Control struct {
	Token     wire.Handle
	Surface   wire.Handle
	Width     int32
	Height    int32
	Format    wire.PixelFormat
	BufferIds []wire.BufferId
}

// FromInfo builds a Control from its wire form.
func FromInfo(info *wire.SurfaceControlInfo) *Control {
	if info == nil {
		return nil
	}
	return &Control{
		Token:     info.Token,
		Surface:   info.Surface,
		Width:     info.Width,
		Height:    info.Height,
		Format:    info.Format,
		BufferIds: info.BufferIds,
	}
}

// Info renders the wire form.
func (c *Control) Info() wire.SurfaceControlInfo {
	return wire.SurfaceControlInfo{
		Token:     c.Token,
		Surface:   c.Surface,
		Width:     c.Width,
		Height:    c.Height,
		Format:    c.Format,
		BufferIds: c.BufferIds,
	}
}

// Valid reports whether the control names a live surface.
func (c *Control) Valid() bool {
	return c != nil && c.Surface != "" && len(c.BufferIds) > 0
}

// SlotSize returns the byte size of one buffer slot.
func (c *Control) SlotSize() int32 {
	return c.Format.BufferBytes(c.Width, c.Height)
}

// SameBuffers reports whether other names the identical slot set; the
// client reuses its producer half in that case.
func (c *Control) SameBuffers(other *Control) bool {
	if c == nil || other == nil || len(c.BufferIds) != len(other.BufferIds) {
		return false
	}
	for i := range c.BufferIds {
		if c.BufferIds[i].Key != other.BufferIds[i].Key {
			return false
		}
	}
	return true
}
