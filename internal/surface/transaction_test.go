package surface

import (
	"testing"

	"github.com/quartzwm/quartz/internal/wire"
)

func testControl(token wire.Handle) *Control {
	return &Control{
		Token:   token,
		Surface: "srf-" + token,
		Width:   200,
		Height:  100,
		Format:  wire.FormatRGBA8888,
		BufferIds: []wire.BufferId{
			{Key: 1, Fd: -1},
			{Key: 2, Fd: -1},
		},
	}
}

func TestTransaction_MergesEntriesPerSurface(t *testing.T) {
	var applied []wire.LayerState
	tx := NewTransaction(func(states []wire.LayerState) error {
		applied = states
		return nil
	})

	c := testControl("tok-a")
	tx.SetPosition(c, 10, 10).
		SetBuffer(c, 1).
		SetBufferCrop(c, wire.Rect{X: 0, Y: 0, W: 199, H: 99})

	if err := tx.Apply(); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied %d entries, want 1", len(applied))
	}
	st := applied[0]
	wantFlags := wire.LayerPositionChanged | wire.LayerBufferChanged | wire.LayerBufferCropChanged
	if st.Flags != wantFlags {
		t.Fatalf("flags = %#x, want %#x", st.Flags, wantFlags)
	}
	if st.X != 10 || st.Y != 10 || st.BufferKey != 1 {
		t.Fatalf("entry = %+v", st)
	}
}

func TestTransaction_PreservesFirstTouchOrder(t *testing.T) {
	var applied []wire.LayerState
	tx := NewTransaction(func(states []wire.LayerState) error {
		applied = states
		return nil
	})

	a, b := testControl("tok-a"), testControl("tok-b")
	tx.SetBuffer(a, 1)
	tx.SetBuffer(b, 2)
	tx.SetAlpha(a, 0.5)

	if err := tx.Apply(); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied %d entries, want 2", len(applied))
	}
	if applied[0].Token != "tok-a" || applied[1].Token != "tok-b" {
		t.Fatalf("order = %s,%s", applied[0].Token, applied[1].Token)
	}
}

func TestTransaction_ApplyClears(t *testing.T) {
	calls := 0
	tx := NewTransaction(func(states []wire.LayerState) error {
		calls++
		return nil
	})

	tx.SetPosition(testControl("tok-a"), 1, 2)
	if err := tx.Apply(); err != nil {
		t.Fatal(err)
	}
	if !tx.Empty() {
		t.Fatal("transaction not empty after Apply()")
	}
	// Empty apply never hits the wire.
	if err := tx.Apply(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("applier called %d times, want 1", calls)
	}
}

func TestControl_SameBuffers(t *testing.T) {
	a, b := testControl("tok-a"), testControl("tok-a")
	if !a.SameBuffers(b) {
		t.Fatal("SameBuffers() = false for identical slot sets")
	}
	b.BufferIds[1].Key = 99
	if a.SameBuffers(b) {
		t.Fatal("SameBuffers() = true for differing keys")
	}
}

func TestControl_SlotSize(t *testing.T) {
	c := testControl("tok-a")
	if got := c.SlotSize(); got != 200*100*4 {
		t.Fatalf("SlotSize() = %d, want %d", got, 200*100*4)
	}
}
