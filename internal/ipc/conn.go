// Package ipc moves wire messages over a unix stream socket. Frames are
// length-prefixed JSON; file descriptors ride as SCM_RIGHTS ancillary data
// attached to the first byte of their frame.
package ipc

import (
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/quartzwm/quartz/internal/wire"
)

// Conn frames wire messages over one unix stream connection. Reads and
// writes are each serialized; a read and a write may run concurrently.
type Conn struct {
	uc      *net.UnixConn
	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewConn wraps an established unix connection.
func NewConn(uc *net.UnixConn) *Conn {
	return &Conn{uc: uc}
}

// WriteMessage sends msg with the given descriptors attached. The fds stay
// owned by the caller; sendmsg installs duplicates in the receiver.
func (c *Conn) WriteMessage(msg *wire.Message, fds []int) error {
	msg.NumFds = len(fds)
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	n, _, err := c.uc.WriteMsgUnix(frame, oob, nil)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	// The ancillary payload went with the first byte; push any remainder
	// as plain stream data.
	for n < len(frame) {
		m, err := c.uc.Write(frame[n:])
		if err != nil {
			return fmt.Errorf("failed to send message tail: %w", err)
		}
		n += m
	}
	return nil
}

// ReadMessage receives the next message and any attached descriptors. The
// returned fds are owned by the caller.
func (c *Conn) ReadMessage() (*wire.Message, []int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	header := make([]byte, 4)
	oob := make([]byte, unix.CmsgSpace(16*4))
	n, oobn, _, _, err := c.uc.ReadMsgUnix(header, oob)
	if err != nil {
		return nil, nil, err
	}
	for n < len(header) {
		m, err := io.ReadFull(c.uc, header[n:])
		if err != nil {
			return nil, nil, err
		}
		n += m
	}

	var fds []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse control message: %w", err)
		}
		for _, cmsg := range cmsgs {
			got, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			fds = append(fds, got...)
		}
	}

	length, err := wire.DecodeLength(header)
	if err != nil {
		closeFds(fds)
		return nil, nil, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(c.uc, body); err != nil {
		closeFds(fds)
		return nil, nil, err
	}
	msg, err := wire.DecodeBody(body)
	if err != nil {
		closeFds(fds)
		return nil, nil, err
	}
	if msg.NumFds != len(fds) {
		closeFds(fds)
		return nil, nil, fmt.Errorf("message declares %d fds, got %d", msg.NumFds, len(fds))
	}
	return msg, fds, nil
}

// Close shuts the connection down.
func (c *Conn) Close() error { return c.uc.Close() }

// PeerPid returns the pid of the process on the other end.
func (c *Conn) PeerPid() (int, error) {
	raw, err := c.uc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, fmt.Errorf("failed to read peer credentials: %w", credErr)
	}
	return int(cred.Pid), nil
}

func closeFds(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
