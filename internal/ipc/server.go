package ipc

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quartzwm/quartz/internal/looper"
	"github.com/quartzwm/quartz/internal/wire"
)

// Handler receives decoded client requests and disconnects. Both callbacks
// run on the service loop goroutine.
type Handler interface {
	HandleRequest(client *ClientConn, msg *wire.Message, fds []int)
	ClientDisconnected(client *ClientConn)
}

// Server accepts client connections on the control socket and pumps their
// requests onto the service loop.
type Server struct {
	socketPath string
	handler    Handler
	loop       *looper.Looper

	mu           sync.Mutex
	listener     *net.UnixListener
	shuttingDown bool
}

// NewServer creates the control-socket server.
func NewServer(socketPath string, handler Handler, loop *looper.Looper) *Server {
	return &Server{socketPath: socketPath, handler: handler, loop: loop}
}

// Start begins listening and accepting connections.
func (s *Server) Start() error {
	// Remove a stale socket from a previous run.
	os.Remove(s.socketPath)

	addr, err := net.ResolveUnixAddr("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve socket path: %w", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logrus.WithField("socket", s.socketPath).Info("control socket listening")
	go s.acceptLoop(listener)
	return nil
}

func (s *Server) acceptLoop(listener *net.UnixListener) {
	for {
		uc, err := listener.AcceptUnix()
		if err != nil {
			s.mu.Lock()
			down := s.shuttingDown
			s.mu.Unlock()
			if down {
				return
			}
			logrus.WithError(err).Warn("control socket accept error")
			continue
		}

		client := newClientConn(s, NewConn(uc))
		go client.readLoop()
	}
}

// Close stops accepting and removes the socket.
func (s *Server) Close() {
	s.mu.Lock()
	s.shuttingDown = true
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	os.Remove(s.socketPath)
}

// ClientConn is one connected client. The service addresses replies and
// events through it; its disconnect is the client's death notification.
type ClientConn struct {
	server *Server
	conn   *Conn
	pid    int

	closeOnce sync.Once
}

func newClientConn(s *Server, conn *Conn) *ClientConn {
	pid, err := conn.PeerPid()
	if err != nil {
		logrus.WithError(err).Warn("failed to resolve client pid")
	}
	return &ClientConn{server: s, conn: conn, pid: pid}
}

// Pid returns the client process id.
func (c *ClientConn) Pid() int { return c.pid }

func (c *ClientConn) readLoop() {
	for {
		msg, fds, err := c.conn.ReadMessage()
		if err != nil {
			// EOF or a broken peer: fire the death recipient once, on
			// the service loop.
			c.closeOnce.Do(func() {
				c.server.loop.Post(func() {
					c.server.handler.ClientDisconnected(c)
				})
			})
			c.conn.Close()
			return
		}
		if msg.Kind != wire.KindRequest {
			closeFds(fds)
			logrus.WithField("kind", msg.Kind).Warn("dropping non-request from client")
			continue
		}
		if !c.server.loop.Post(func() {
			c.server.handler.HandleRequest(c, msg, fds)
		}) {
			closeFds(fds)
			return
		}
	}
}

// Reply answers a request. fds stay owned by the caller.
func (c *ClientConn) Reply(seq uint64, status wire.Status, errMsg string, payload any, fds []int) {
	msg, err := wire.NewReply(seq, status, errMsg, payload)
	if err != nil {
		logrus.WithError(err).Error("failed to build reply")
		return
	}
	if err := c.conn.WriteMessage(msg, fds); err != nil {
		logrus.WithError(err).Debug("failed to send reply")
	}
}

// SendEvent pushes an unsolicited event to the client. Send failures are
// ignored; a dying client's death recipient handles cleanup.
func (c *ClientConn) SendEvent(method string, payload any) {
	msg, err := wire.NewEvent(method, payload)
	if err != nil {
		logrus.WithError(err).Error("failed to build event")
		return
	}
	if err := c.conn.WriteMessage(msg, nil); err != nil {
		logrus.WithFields(logrus.Fields{"event": method}).Debug("failed to send event")
	}
}
