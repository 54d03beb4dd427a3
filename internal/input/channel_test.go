package input

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMessageMarshalRoundTrip(t *testing.T) {
	in := Message{
		Type:      TypePointer,
		State:     StatePressed,
		X:         120,
		Y:         -7,
		Code:      0,
		Timestamp: 123456789,
	}
	var out Message
	if err := out.Unmarshal(in.Marshal()); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestMessageUnmarshal_RejectsShortBuffer(t *testing.T) {
	var m Message
	if err := m.Unmarshal(make([]byte, 8)); err == nil {
		t.Fatal("Unmarshal() accepted short buffer")
	}
}

func TestChannel_SendRecv(t *testing.T) {
	name := filepath.Join(t.TempDir(), "event", "ch0")
	ch, err := Create(name)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer ch.Release()

	want := Message{Type: TypeKey, State: StatePressed, Code: 42}
	if err := ch.Send(&want); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	got, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("Recv() = %+v, want %+v", got, want)
	}

	// Empty queue returns nil without blocking.
	got, err = ch.Recv()
	if err != nil {
		t.Fatalf("Recv() on empty error: %v", err)
	}
	if got != nil {
		t.Fatalf("Recv() on empty = %+v, want nil", got)
	}
}

func TestChannel_OverflowDropsWithError(t *testing.T) {
	name := filepath.Join(t.TempDir(), "event", "ch1")
	ch, err := Create(name)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer ch.Release()

	msg := Message{Type: TypePointer, State: StatePressed}
	overflowed := false
	// The kernel rounds socket buffers up; push well past the nominal bound.
	for i := 0; i < MaxMessages*64; i++ {
		if err := ch.Send(&msg); err == ErrOverflow {
			overflowed = true
			break
		} else if err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}
	if !overflowed {
		t.Fatal("channel never overflowed")
	}

	// The queue still drains and delivers what was accepted.
	got, err := ch.Recv()
	if err != nil || got == nil {
		t.Fatalf("Recv() after overflow = %v, %v", got, err)
	}
}

func TestChannel_ReleaseUnlinksName(t *testing.T) {
	name := filepath.Join(t.TempDir(), "event", "ch2")
	ch, err := Create(name)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := os.Stat(name); err != nil {
		t.Fatalf("channel name missing before release: %v", err)
	}

	ch.Release()
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Fatalf("channel name still present after release: %v", err)
	}
	if ch.Valid() {
		t.Fatal("Valid() = true after release")
	}
}

func TestChannel_DetachReadFdTransfersOwnership(t *testing.T) {
	name := filepath.Join(t.TempDir(), "event", "ch3")
	ch, err := Create(name)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer ch.Release()

	fd := ch.DetachReadFd()
	if fd < 0 {
		t.Fatal("DetachReadFd() returned invalid fd")
	}
	client := FromReadFd(name, fd)
	defer client.Release()

	want := Message{Type: TypePointer, State: StateReleased, X: 5, Y: 6}
	if err := ch.Send(&want); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	got, err := client.Recv()
	if err != nil || got == nil {
		t.Fatalf("client Recv() = %v, %v", got, err)
	}
	if *got != want {
		t.Fatalf("client Recv() = %+v, want %+v", got, want)
	}

	// The client release must not unlink the server-owned name.
	client.Release()
	if _, err := os.Stat(name); err != nil {
		t.Fatalf("client release unlinked server name: %v", err)
	}
}
