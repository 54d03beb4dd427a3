package ipc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quartzwm/quartz/internal/wire"
)

const callTimeout = 5 * time.Second

// ErrClosed reports a call against a dead connection.
var ErrClosed = errors.New("ipc: connection closed")

// EventFunc receives unsolicited service events. It runs on the transport
// goroutine and must hand off to the client loop before touching window
// state.
type EventFunc func(msg *wire.Message, fds []int)

// Client is one client's connection to the service.
type Client struct {
	conn    *Conn
	onEvent EventFunc

	seq     atomic.Uint64
	mu      sync.Mutex
	waiters map[uint64]chan *reply
	closed  bool
	onDeath func()
}

type reply struct {
	msg *wire.Message
	fds []int
}

// Dial connects to the service control socket.
func Dial(socketPath string, onEvent EventFunc) (*Client, error) {
	uc, err := net.DialTimeout("unix", socketPath, callTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to service: %w (is the service running?)", err)
	}
	c := &Client{
		conn:    NewConn(uc.(*net.UnixConn)),
		onEvent: onEvent,
		waiters: make(map[uint64]chan *reply),
	}
	go c.readLoop()
	return c, nil
}

// OnDeath installs a callback fired once when the connection drops. It runs
// on the transport goroutine.
func (c *Client) OnDeath(fn func()) {
	c.mu.Lock()
	c.onDeath = fn
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		msg, fds, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown()
			return
		}
		switch msg.Kind {
		case wire.KindReply:
			c.mu.Lock()
			ch := c.waiters[msg.Seq]
			delete(c.waiters, msg.Seq)
			c.mu.Unlock()
			if ch == nil {
				closeFds(fds)
				logrus.WithField("seq", msg.Seq).Warn("reply with no waiter")
				continue
			}
			ch <- &reply{msg: msg, fds: fds}
		case wire.KindEvent:
			if c.onEvent != nil {
				c.onEvent(msg, fds)
			} else {
				closeFds(fds)
			}
		default:
			closeFds(fds)
		}
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	waiters := c.waiters
	c.waiters = make(map[uint64]chan *reply)
	death := c.onDeath
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if death != nil {
		death()
	}
}

// Call issues a request and waits for the matching reply. The returned fds
// are owned by the caller. out, when non-nil, receives the reply payload of
// ok replies.
func (c *Client) Call(method string, payload any, out any) (wire.Status, []int, error) {
	seq := c.seq.Add(1)
	msg, err := wire.NewRequest(seq, method, payload)
	if err != nil {
		return "", nil, err
	}

	ch := make(chan *reply, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", nil, ErrClosed
	}
	c.waiters[seq] = ch
	c.mu.Unlock()

	if err := c.conn.WriteMessage(msg, nil); err != nil {
		c.mu.Lock()
		delete(c.waiters, seq)
		c.mu.Unlock()
		return "", nil, err
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return "", nil, ErrClosed
		}
		if r.msg.Status != wire.StatusOK {
			closeFds(r.fds)
			return r.msg.Status, nil, r.msg.Status.Error(r.msg.Error)
		}
		if out != nil && len(r.msg.Payload) > 0 {
			if err := r.msg.Unpack(out); err != nil {
				closeFds(r.fds)
				return r.msg.Status, nil, err
			}
		}
		return r.msg.Status, r.fds, nil
	case <-time.After(callTimeout):
		c.mu.Lock()
		delete(c.waiters, seq)
		c.mu.Unlock()
		return "", nil, fmt.Errorf("ipc: %s timed out", method)
	}
}

// Close drops the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() {
	c.conn.Close()
}
