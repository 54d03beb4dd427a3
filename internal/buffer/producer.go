package buffer

import (
	"fmt"

	"github.com/quartzwm/quartz/internal/wire"
)

// Producer is the client half of a buffer queue. All calls run on the
// client's loop goroutine.
type Producer struct {
	q *queue
}

// NewProducer maps the slots named by ids for writing. ids carry live fds.
func NewProducer(ids []wire.BufferId, slotSize int32) (*Producer, error) {
	q, err := newQueue(ids, slotSize)
	if err != nil {
		return nil, err
	}
	return &Producer{q: q}, nil
}

// Dequeue returns a free slot as dequeued, or nil when every slot is owned
// elsewhere. Never blocks; the caller retries on the next vsync.
func (p *Producer) Dequeue() *Item {
	for _, it := range p.q.slots {
		if it.state == StateFree {
			it.state = StateDequeued
			return it
		}
	}
	return nil
}

// Queue marks a dequeued slot's pixel data ready for the consumer.
func (p *Producer) Queue(item *Item) error {
	it, err := p.q.lookup(item.Key)
	if err != nil {
		return err
	}
	if it.state != StateDequeued {
		return fmt.Errorf("%w: queue of %s slot %d", ErrBadState, it.state, it.Key)
	}
	it.state = StateQueued
	return nil
}

// Cancel returns a dequeued slot unused, leaving the queue as if the
// dequeue never happened.
func (p *Producer) Cancel(item *Item) error {
	it, err := p.q.lookup(item.Key)
	if err != nil {
		return err
	}
	if it.state != StateDequeued {
		return fmt.Errorf("%w: cancel of %s slot %d", ErrBadState, it.state, it.Key)
	}
	it.state = StateFree
	return nil
}

// SyncFree processes a bufferReleased notification: the consumer finished
// with the slot, so it is free to dequeue again.
func (p *Producer) SyncFree(key int32) (*Item, error) {
	it, err := p.q.lookup(key)
	if err != nil {
		return nil, err
	}
	if it.state != StateQueued && it.state != StateAcquired {
		return nil, fmt.Errorf("%w: release of %s slot %d", ErrBadState, it.state, it.Key)
	}
	it.state = StateFree
	return it, nil
}

// Slots returns the ring size.
func (p *Producer) Slots() int { return len(p.q.slots) }

// States reports per-key slot states. Used by introspection and tests.
func (p *Producer) States() map[int32]SlotState { return p.q.states() }

// Close drains all slots to free, unmaps and closes them. Driver cookies
// are left alone; the driver's resetBuffer owns their lifetime.
func (p *Producer) Close() { p.q.close() }
