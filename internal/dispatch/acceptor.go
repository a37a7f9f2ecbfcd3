package dispatch

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/nahelawi/sysresource/internal/logging"
)

// Acceptor is the single task that accepts connections, timestamps
// arrival, and enqueues them, delegating to the configured overload
// policy whenever the queue is at capacity (spec §4.2).
type Acceptor struct {
	ln     net.Listener
	core   *Core
	logger *logging.Logger
}

func NewAcceptor(ln net.Listener, core *Core, logger *logging.Logger) *Acceptor {
	return &Acceptor{ln: ln, core: core, logger: logger}
}

// Run loops until the listener is closed or a non-transient accept error
// occurs. Errnos that isTransientAcceptError recognises are logged and the
// accept is retried; any other accept failure (other than the listener
// having been closed deliberately) is logged and terminates the loop.
func (a *Acceptor) Run() error {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isTransientAcceptError(err) {
				if a.logger != nil {
					a.logger.Errorf("accept failed (transient, retrying): %v", err)
				}
				continue
			}
			if a.logger != nil {
				a.logger.Errorf("accept failed: %v", err)
			}
			return err
		}
		arrival := time.Now()
		a.admit(Request{Conn: conn, ArrivalTime: arrival})
	}
}

// isTransientAcceptError reports whether err is a syscall-level failure
// that a retry can plausibly recover from, the same way the teacher's
// queue runner singles out EOPNOTSUPP from Prime's submit errors rather
// than treating every errno as fatal. EMFILE/ENFILE mean the process or
// system is out of file descriptors and ECONNABORTED means the peer reset
// before accept finished; none of these indicate the listener itself is
// broken.
func isTransientAcceptError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EMFILE, syscall.ENFILE, syscall.ECONNABORTED, syscall.EINTR:
		return true
	default:
		return false
	}
}

// admit implements the core loop of spec §4.2: acquire the queue lock;
// while queue.size+in_flight >= capacity, invoke the policy; once room
// exists, enqueue and broadcast not_empty.
func (a *Acceptor) admit(req Request) {
	c := a.core
	accept := func() (net.Conn, time.Time, error) {
		conn, err := a.ln.Accept()
		return conn, time.Now(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.closed && c.pending() >= c.capacity {
		next, err := c.policy.Apply(c, req, accept)
		if err != nil {
			if a.logger != nil {
				a.logger.Errorf("policy %s: replacement accept failed: %v", c.policy.Name(), err)
			}
			return
		}
		req = next
	}
	if c.closed {
		if req.Conn != nil {
			req.Conn.Close()
		}
		return
	}

	c.queue.enqueue(req)
	c.notEmpty.Broadcast()
}
