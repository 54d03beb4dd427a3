package surface

import (
	"github.com/quartzwm/quartz/internal/wire"
)

// Applier ships a batch of layer states to the service in one call.
type Applier func(states []wire.LayerState) error

// Transaction batches layer-state diffs and applies them atomically with
// respect to the next composition pass. Entries are keyed by the control's
// token, so controls sharing a token merge into one entry; entry order
// follows first touch.
type Transaction struct {
	apply   Applier
	order   []wire.Handle
	pending map[wire.Handle]*wire.LayerState
}

// NewTransaction creates a transaction applied through fn.
func NewTransaction(fn Applier) *Transaction {
	return &Transaction{
		apply:   fn,
		pending: make(map[wire.Handle]*wire.LayerState),
	}
}

func (t *Transaction) entry(c *Control) *wire.LayerState {
	if st, ok := t.pending[c.Token]; ok {
		return st
	}
	st := &wire.LayerState{Token: c.Token}
	t.pending[c.Token] = st
	t.order = append(t.order, c.Token)
	return st
}

// SetPosition stages a surface position change.
func (t *Transaction) SetPosition(c *Control, x, y int32) *Transaction {
	st := t.entry(c)
	st.Flags |= wire.LayerPositionChanged
	st.X, st.Y = x, y
	return t
}

// SetAlpha stages a surface alpha change.
func (t *Transaction) SetAlpha(c *Control, alpha float32) *Transaction {
	st := t.entry(c)
	st.Flags |= wire.LayerAlphaChanged
	st.Alpha = alpha
	return t
}

// SetBuffer stages the queued buffer the next composition consumes.
func (t *Transaction) SetBuffer(c *Control, key int32) *Transaction {
	st := t.entry(c)
	st.Flags |= wire.LayerBufferChanged
	st.BufferKey = key
	return t
}

// SetBufferCrop stages the source crop applied to the buffer.
func (t *Transaction) SetBufferCrop(c *Control, crop wire.Rect) *Transaction {
	st := t.entry(c)
	st.Flags |= wire.LayerBufferCropChanged
	st.BufferCrop = crop
	return t
}

// Empty reports whether nothing is staged.
func (t *Transaction) Empty() bool { return len(t.order) == 0 }

// States snapshots the staged entries in first-touch order.
func (t *Transaction) States() []wire.LayerState {
	out := make([]wire.LayerState, 0, len(t.order))
	for _, token := range t.order {
		out = append(out, *t.pending[token])
	}
	return out
}

// Apply ships the staged entries in one IPC call and clears the
// transaction. Applying an empty transaction is a no-op.
func (t *Transaction) Apply() error {
	if t.Empty() {
		return nil
	}
	states := t.States()
	t.Clean()
	return t.apply(states)
}

// Clean drops all staged entries.
func (t *Transaction) Clean() {
	t.order = nil
	t.pending = make(map[wire.Handle]*wire.LayerState)
}
