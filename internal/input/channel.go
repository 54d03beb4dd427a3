package input

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// MaxMessages bounds the channel queue depth.
const MaxMessages = 64

// ErrOverflow reports a send against a full channel; the message is dropped.
var ErrOverflow = errors.New("input: channel full, message dropped")

// Channel is a named, bounded, non-blocking message queue. The service
// holds the write end; the read end's fd crosses the IPC boundary to the
// client, which waits on its readability.
type Channel struct {
	name    string
	writeFd int
	readFd  int
	// owner marks the creating side; only the owner unlinks the name.
	owner bool
}

// Create builds a channel at the given filesystem name. The read end is
// bound to name so the queue is discoverable and unlinkable; buffers are
// sized to bound the queue near MaxMessages messages.
func Create(name string) (*Channel, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0700); err != nil {
		return nil, fmt.Errorf("failed to create channel directory: %w", err)
	}
	// A stale queue from a dead owner must not block creation.
	_ = os.Remove(name)

	readFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: name}
	if err := unix.Bind(readFd, addr); err != nil {
		unix.Close(readFd)
		return nil, fmt.Errorf("failed to bind channel %q: %w", name, err)
	}
	_ = unix.SetsockoptInt(readFd, unix.SOL_SOCKET, unix.SO_RCVBUF, MaxMessages*MessageSize)

	writeFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		unix.Close(readFd)
		os.Remove(name)
		return nil, fmt.Errorf("failed to create channel sender: %w", err)
	}
	if err := unix.Connect(writeFd, addr); err != nil {
		unix.Close(readFd)
		unix.Close(writeFd)
		os.Remove(name)
		return nil, fmt.Errorf("failed to connect channel %q: %w", name, err)
	}
	_ = unix.SetsockoptInt(writeFd, unix.SOL_SOCKET, unix.SO_SNDBUF, MaxMessages*MessageSize)

	return &Channel{name: name, writeFd: writeFd, readFd: readFd, owner: true}, nil
}

// FromReadFd wraps the read end received over IPC on the client side.
func FromReadFd(name string, fd int) *Channel {
	return &Channel{name: name, writeFd: -1, readFd: fd}
}

// Name returns the channel's filesystem name.
func (c *Channel) Name() string { return c.name }

// ReadFd exposes the read end for event-loop registration and IPC transfer.
func (c *Channel) ReadFd() int { return c.readFd }

// Valid reports whether the channel can still move messages.
func (c *Channel) Valid() bool { return c != nil && (c.readFd >= 0 || c.writeFd >= 0) }

// Send enqueues one message without blocking. A full queue drops the
// message and returns ErrOverflow.
func (c *Channel) Send(msg *Message) error {
	if c.writeFd < 0 {
		return errors.New("input: channel has no write end")
	}
	_, err := unix.Write(c.writeFd, msg.Marshal())
	if err == unix.EAGAIN || err == unix.ENOBUFS {
		logrus.WithField("channel", c.name).Warn("input channel full, dropping message")
		return ErrOverflow
	}
	if err != nil {
		return fmt.Errorf("failed to send input message: %w", err)
	}
	return nil
}

// Recv dequeues one message without blocking, returning nil when the queue
// is empty. Short reads are discarded.
func (c *Channel) Recv() (*Message, error) {
	if c.readFd < 0 {
		return nil, errors.New("input: channel has no read end")
	}
	buf := make([]byte, MessageSize)
	n, err := unix.Read(c.readFd, buf)
	if err == unix.EAGAIN {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input message: %w", err)
	}
	if n != MessageSize {
		return nil, nil
	}
	var msg Message
	if err := msg.Unmarshal(buf); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DetachReadFd hands the read end to the caller (for IPC transfer); the
// channel keeps only its write end.
func (c *Channel) DetachReadFd() int {
	fd := c.readFd
	c.readFd = -1
	return fd
}

// Release closes both ends and unlinks the queue name.
func (c *Channel) Release() {
	if c == nil {
		return
	}
	if c.readFd >= 0 {
		unix.Close(c.readFd)
		c.readFd = -1
	}
	if c.writeFd >= 0 {
		unix.Close(c.writeFd)
		c.writeFd = -1
	}
	if c.owner && c.name != "" {
		if err := os.Remove(c.name); err == nil {
			logrus.WithField("channel", c.name).Debug("input channel unlinked")
		}
	}
	c.name = ""
}
