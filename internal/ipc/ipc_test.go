package ipc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/quartzwm/quartz/internal/looper"
	"github.com/quartzwm/quartz/internal/wire"
)

type echoHandler struct {
	mu           sync.Mutex
	disconnected bool
	lastClient   *ClientConn
}

func (h *echoHandler) HandleRequest(client *ClientConn, msg *wire.Message, fds []int) {
	h.mu.Lock()
	h.lastClient = client
	h.mu.Unlock()

	switch msg.Method {
	case "echo":
		client.Reply(msg.Seq, wire.StatusOK, "", msg.Payload, nil)
	case "give_fd":
		fd, err := unix.MemfdCreate("ipc-test", unix.MFD_CLOEXEC)
		if err != nil {
			client.Reply(msg.Seq, wire.StatusAllocationFailure, err.Error(), nil, nil)
			return
		}
		if err := unix.Ftruncate(fd, 128); err != nil {
			unix.Close(fd)
			client.Reply(msg.Seq, wire.StatusAllocationFailure, err.Error(), nil, nil)
			return
		}
		client.Reply(msg.Seq, wire.StatusOK, "", map[string]int{"fd": 0}, []int{fd})
		unix.Close(fd)
	case "fail":
		client.Reply(msg.Seq, wire.StatusUnknownHandle, "no such thing", nil, nil)
	case "push":
		client.SendEvent("poke", map[string]int{"n": 1})
		client.Reply(msg.Seq, wire.StatusOK, "", nil, nil)
	}
}

func (h *echoHandler) ClientDisconnected(client *ClientConn) {
	h.mu.Lock()
	h.disconnected = true
	h.mu.Unlock()
}

func startServer(t *testing.T) (*Server, *echoHandler, string) {
	t.Helper()
	loop := looper.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	handler := &echoHandler{}
	socket := filepath.Join(t.TempDir(), "quartz.sock")
	srv := NewServer(socket, handler, loop)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, handler, socket
}

func TestCall_RoundTrip(t *testing.T) {
	_, _, socket := startServer(t)

	client, err := Dial(socket, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	var out map[string]string
	status, fds, err := client.Call("echo", map[string]string{"hello": "world"}, &out)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if status != wire.StatusOK || len(fds) != 0 {
		t.Fatalf("Call() = %v, %v", status, fds)
	}
	if out["hello"] != "world" {
		t.Fatalf("echo payload = %v", out)
	}
}

func TestCall_ErrorStatus(t *testing.T) {
	_, _, socket := startServer(t)

	client, err := Dial(socket, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	status, _, err := client.Call("fail", nil, nil)
	if err == nil {
		t.Fatal("Call() succeeded, want error status")
	}
	if status != wire.StatusUnknownHandle {
		t.Fatalf("status = %v, want unknown_handle", status)
	}
}

func TestCall_FdPassing(t *testing.T) {
	_, _, socket := startServer(t)

	client, err := Dial(socket, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	var out map[string]int
	status, fds, err := client.Call("give_fd", nil, &out)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if status != wire.StatusOK {
		t.Fatalf("status = %v", status)
	}
	if len(fds) != 1 {
		t.Fatalf("got %d fds, want 1", len(fds))
	}
	defer unix.Close(fds[0])

	// The descriptor must be usable in this process.
	data, err := unix.Mmap(fds[0], 0, 128, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		t.Fatalf("mmap received fd: %v", err)
	}
	data[0] = 42
	unix.Munmap(data)
}

func TestEvents_Delivered(t *testing.T) {
	_, _, socket := startServer(t)

	events := make(chan *wire.Message, 1)
	client, err := Dial(socket, func(msg *wire.Message, fds []int) {
		events <- msg
	})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	if _, _, err := client.Call("push", nil, nil); err != nil {
		t.Fatalf("Call() error: %v", err)
	}

	select {
	case msg := <-events:
		if msg.Method != "poke" {
			t.Fatalf("event method = %q", msg.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestDisconnect_FiresDeathRecipient(t *testing.T) {
	_, handler, socket := startServer(t)

	client, err := Dial(socket, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	// A request first, so the server has seen the client.
	if _, _, err := client.Call("echo", map[string]string{}, nil); err != nil {
		t.Fatalf("Call() error: %v", err)
	}

	client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		handler.mu.Lock()
		done := handler.disconnected
		handler.mu.Unlock()
		if done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("death recipient never fired")
}

func TestClientConn_Pid(t *testing.T) {
	_, handler, socket := startServer(t)

	client, err := Dial(socket, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	if _, _, err := client.Call("echo", map[string]string{}, nil); err != nil {
		t.Fatalf("Call() error: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.lastClient == nil || handler.lastClient.Pid() <= 0 {
		t.Fatalf("peer pid not resolved: %+v", handler.lastClient)
	}
}
