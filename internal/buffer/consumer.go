package buffer

import (
	"fmt"

	"github.com/quartzwm/quartz/internal/wire"
)

// Consumer is the service half of a buffer queue. All calls run on the
// service's loop goroutine.
type Consumer struct {
	q *queue
	// pending holds keys in queued order; acquire consumes FIFO.
	pending []int32
}

// NewConsumer maps the slots named by ids. ids carry live fds.
func NewConsumer(ids []wire.BufferId, slotSize int32) (*Consumer, error) {
	q, err := newQueue(ids, slotSize)
	if err != nil {
		return nil, err
	}
	return &Consumer{q: q}, nil
}

// SyncQueued records that the client queued the slot and named it in an
// applied transaction. Returns the slot for the compositor pass.
func (c *Consumer) SyncQueued(key int32) (*Item, error) {
	it, err := c.q.lookup(key)
	if err != nil {
		return nil, err
	}
	if it.state == StateQueued {
		// Transaction re-referenced a slot already known queued.
		return it, nil
	}
	if it.state != StateFree {
		return nil, fmt.Errorf("%w: sync-queued of %s slot %d", ErrBadState, it.state, it.Key)
	}
	it.state = StateQueued
	c.pending = append(c.pending, key)
	return it, nil
}

// Acquire takes the oldest queued slot for composition, or nil when nothing
// is queued. Never blocks.
func (c *Consumer) Acquire() *Item {
	for len(c.pending) > 0 {
		key := c.pending[0]
		c.pending = c.pending[1:]
		it := c.q.byKey[key]
		if it.state != StateQueued {
			continue
		}
		it.state = StateAcquired
		return it
	}
	return nil
}

// Release frees an acquired slot after composition. The caller notifies the
// producer with a bufferReleased event.
func (c *Consumer) Release(item *Item) error {
	it, err := c.q.lookup(item.Key)
	if err != nil {
		return err
	}
	if it.state != StateAcquired {
		return fmt.Errorf("%w: release of %s slot %d", ErrBadState, it.state, it.Key)
	}
	it.state = StateFree
	return nil
}

// Slots returns the ring size.
func (c *Consumer) Slots() int { return len(c.q.slots) }

// States reports per-key slot states. Used by introspection and tests.
func (c *Consumer) States() map[int32]SlotState { return c.q.states() }

// Close drains all slots to free, unmaps and closes them.
func (c *Consumer) Close() {
	c.pending = nil
	c.q.close()
}
