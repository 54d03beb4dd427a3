package buffer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/quartzwm/quartz/internal/runtimepath"
	"github.com/quartzwm/quartz/internal/wire"
)

// nextKey mints buffer keys. Uniqueness is only required per surface;
// a process-wide counter keeps stale release messages from aliasing slots
// of a recreated surface.
var nextKey atomic.Int32

// Allocator creates shared-memory slots on the service side.
type Allocator struct {
	// ByName persists slots as named files under GraphicsDir so clients
	// re-open them by path; otherwise slots are anonymous memfds and only
	// fds cross the boundary.
	ByName      bool
	GraphicsDir string
}

// Allocate creates count slots of size bytes for a client pid. On any
// failure every already-created slot is closed and unlinked, and the
// allocation fails as a whole.
func (a *Allocator) Allocate(pid int, count int, size int32) ([]wire.BufferId, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("buffer: bad allocation %d x %d bytes", count, size)
	}

	ids := make([]wire.BufferId, 0, count)
	for i := 0; i < count; i++ {
		id, err := a.allocateOne(pid, size)
		if err != nil {
			a.ReleaseIds(ids)
			return nil, fmt.Errorf("failed to create shared buffer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *Allocator) allocateOne(pid int, size int32) (wire.BufferId, error) {
	key := nextKey.Add(1)

	if a.ByName {
		name := runtimepath.BufferName(a.GraphicsDir, pid)
		if err := os.MkdirAll(filepath.Dir(name), 0700); err != nil {
			return wire.BufferId{}, err
		}
		fd, err := unix.Open(name, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0600)
		if err != nil {
			return wire.BufferId{}, err
		}
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			os.Remove(name)
			return wire.BufferId{}, err
		}
		return wire.BufferId{Name: name, Key: key, Fd: fd}, nil
	}

	fd, err := unix.MemfdCreate("quartz-bq", unix.MFD_CLOEXEC)
	if err != nil {
		return wire.BufferId{}, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return wire.BufferId{}, err
	}
	return wire.BufferId{Key: key, Fd: fd}, nil
}

// ReleaseIds closes and unlinks slots that never made it into a queue
// (allocation rollback).
func (a *Allocator) ReleaseIds(ids []wire.BufferId) {
	for _, id := range ids {
		if id.Fd >= 0 {
			_ = unix.Close(id.Fd)
		}
		if id.Name != "" {
			_ = os.Remove(id.Name)
		}
	}
}

// OpenByName re-opens named slots on the client when fds do not travel.
// ids are rewritten with the freshly opened descriptors.
func OpenByName(ids []wire.BufferId) ([]wire.BufferId, error) {
	out := make([]wire.BufferId, 0, len(ids))
	for _, id := range ids {
		if id.Name == "" {
			for _, opened := range out {
				unix.Close(opened.Fd)
			}
			return nil, fmt.Errorf("buffer: slot %d has no name to open", id.Key)
		}
		fd, err := unix.Open(id.Name, unix.O_RDWR|unix.O_CLOEXEC, 0600)
		if err != nil {
			for _, opened := range out {
				unix.Close(opened.Fd)
			}
			return nil, fmt.Errorf("failed to open buffer %q: %w", id.Name, err)
		}
		out = append(out, wire.BufferId{Name: id.Name, Key: id.Key, Fd: fd})
	}
	return out, nil
}
