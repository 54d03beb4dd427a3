// Package looper provides the single-goroutine cooperative event loop both
// sides of the window system run on. All window state is confined to its
// process's loop goroutine; transport goroutines hand work over with Post.
package looper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const taskBacklog = 256

// Looper serializes posted tasks onto one goroutine.
type Looper struct {
	tasks chan func()

	mu      sync.Mutex
	closed  bool
	started bool
}

// New creates a looper. Run must be called before posted tasks execute.
func New() *Looper {
	return &Looper{tasks: make(chan func(), taskBacklog)}
}

// Run executes posted tasks until ctx is cancelled. It is the loop
// goroutine; everything posted runs here, in post order.
func (l *Looper) Run(ctx context.Context) {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			// Drain what is already queued so teardown tasks run.
			for {
				select {
				case task := <-l.tasks:
					task()
				default:
					return
				}
			}
		case task := <-l.tasks:
			task()
		}
	}
}

// Post queues task onto the loop. Returns false when the loop has shut down
// or the backlog is full; the task is dropped in both cases.
func (l *Looper) Post(task func()) bool {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return false
	}

	select {
	case l.tasks <- task:
		return true
	default:
		logrus.Warn("looper: task backlog full, dropping task")
		return false
	}
}

// PostDelayed queues task onto the loop after d. The returned timer may be
// stopped to cancel delivery.
func (l *Looper) PostDelayed(d time.Duration, task func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(task) })
}

// Watch posts onReadable to the loop each time fd becomes readable. The
// watch runs on its own goroutine and ends when stop is called or the fd
// errors. onReadable runs on the loop goroutine and must consume the
// readiness (read the fd) before returning.
func (l *Looper) Watch(fd int, onReadable func()) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	stop = func() { once.Do(func() { close(done) }) }

	go func() {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			select {
			case <-done:
				return
			default:
			}

			fds[0].Revents = 0
			n, err := unix.Poll(fds, 100)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				logrus.WithError(err).Debug("looper: fd watch ended")
				return
			}
			if n == 0 {
				continue
			}
			if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				return
			}
			if fds[0].Revents&unix.POLLIN == 0 {
				continue
			}

			// Hand the readiness to the loop and wait for it to be
			// consumed before polling again, so one readable datagram
			// does not spin this goroutine.
			handled := make(chan struct{})
			if !l.Post(func() {
				onReadable()
				close(handled)
			}) {
				return
			}
			select {
			case <-handled:
			case <-done:
				return
			}
		}
	}()
	return stop
}
