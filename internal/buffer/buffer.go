// Package buffer implements the shared-memory buffer queue crossing the IPC
// boundary: a fixed ring of mmap'd pixel buffers with explicit
// dequeue/queue/acquire/release ownership transitions. The producer half
// lives in the client, the consumer half in the service; the IPC ordering of
// queueBuffer -> transaction -> composition -> bufferReleased provides the
// cross-half happens-before edge, so neither half locks against the other.
package buffer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/quartzwm/quartz/internal/wire"
)

// SlotState is the ownership state of one ring slot within a queue half.
type SlotState int

const (
	StateFree SlotState = iota
	StateDequeued
	StateQueued
	StateAcquired
)

func (s SlotState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateDequeued:
		return "dequeued"
	case StateQueued:
		return "queued"
	case StateAcquired:
		return "acquired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultSlotCount is the ring depth: double buffering.
const DefaultSlotCount = 2

var (
	// ErrUnknownKey reports an operation naming a key outside the ring.
	ErrUnknownKey = errors.New("buffer: unknown buffer key")
	// ErrBadState reports an ownership transition from the wrong state.
	ErrBadState = errors.New("buffer: slot is in the wrong state")
)

// Item is one ring slot. Data is the mapped shared region. Cookie is owned
// by the UI driver and survives requeues of the same slot; the queue never
// touches it.
type Item struct {
	Key    int32
	Name   string
	Size   int32
	Data   []byte
	Cookie any

	fd    int
	state SlotState
}

// State returns the slot's current ownership state.
func (it *Item) State() SlotState { return it.state }

// queue is the slot table shared by both half implementations.
type queue struct {
	slots []*Item
	byKey map[int32]*Item
}

func newQueue(ids []wire.BufferId, slotSize int32) (*queue, error) {
	if len(ids) == 0 {
		return nil, errors.New("buffer: no buffer ids")
	}
	q := &queue{byKey: make(map[int32]*Item, len(ids))}
	for i, id := range ids {
		data, err := unix.Mmap(id.Fd, 0, int(slotSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			q.close()
			for _, rest := range ids[i:] {
				_ = unix.Close(rest.Fd)
			}
			return nil, fmt.Errorf("failed to map buffer %d: %w", id.Key, err)
		}
		item := &Item{Key: id.Key, Name: id.Name, Size: slotSize, Data: data, fd: id.Fd, state: StateFree}
		q.slots = append(q.slots, item)
		q.byKey[id.Key] = item
	}
	return q, nil
}

// close drains every slot to free, unmaps and closes the descriptors.
func (q *queue) close() {
	for _, it := range q.slots {
		if it.Data != nil {
			_ = unix.Munmap(it.Data)
			it.Data = nil
		}
		if it.fd >= 0 {
			_ = unix.Close(it.fd)
			it.fd = -1
		}
		it.state = StateFree
	}
}

func (q *queue) lookup(key int32) (*Item, error) {
	it, ok := q.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKey, key)
	}
	return it, nil
}

// states returns the slot states keyed by buffer key. Test hook.
func (q *queue) states() map[int32]SlotState {
	out := make(map[int32]SlotState, len(q.slots))
	for _, it := range q.slots {
		out[it.Key] = it.state
	}
	return out
}
