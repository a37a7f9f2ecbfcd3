package brd

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nahelawi/sysresource/internal/dispatch"
	"github.com/nahelawi/sysresource/internal/logging"
)

// Stats, Handler and ResultCode are defined in internal/dispatch (Core and
// Worker need them internally) and re-exported here as type aliases, the
// same pattern the teacher uses to re-export its backend interfaces.
type (
	Stats      = dispatch.Stats
	Handler    = dispatch.Handler
	ResultCode = dispatch.ResultCode
)

const (
	ResultStatic         = dispatch.ResultStatic
	ResultDynamic        = dispatch.ResultDynamic
	ResultNotImplemented = dispatch.ResultNotImplemented
	ResultNotFound       = dispatch.ResultNotFound
	ResultForbidden      = dispatch.ResultForbidden
)

// PolicyName selects one of the four overload policies by the name used on
// the command line (spec.md §6.2: block, dt, dh, random).
type PolicyName string

const (
	PolicyBlock      PolicyName = "block"
	PolicyDropTail   PolicyName = "dt"
	PolicyDropHead   PolicyName = "dh"
	PolicyDropRandom PolicyName = "random"
)

func resolvePolicy(name PolicyName) (dispatch.Policy, error) {
	switch name {
	case PolicyBlock:
		return dispatch.BlockPolicy{}, nil
	case PolicyDropTail:
		return dispatch.DropTailPolicy{}, nil
	case PolicyDropHead:
		return dispatch.DropHeadPolicy{}, nil
	case PolicyDropRandom:
		return dispatch.DropRandomPolicy{}, nil
	default:
		return nil, NewError("resolve-policy", ErrCodeInvalidConfig, fmt.Sprintf("unknown policy %q", name))
	}
}

// Options configures a Server.
type Options struct {
	// Addr is the address to listen on, e.g. ":8080".
	Addr string

	// NumWorkers is the number of worker goroutines draining the queue.
	NumWorkers int

	// QueueCapacity bounds queue.size + in_flight_count.
	QueueCapacity int

	// Policy selects the overload policy applied when the queue is full.
	Policy PolicyName

	// Handler serves each accepted connection. Required.
	Handler Handler

	// CPUAffinity, if non-empty, pins each worker's OS thread to one CPU
	// via unix.SchedSetaffinity, chosen round-robin by worker id. Leave
	// nil to let the scheduler place worker goroutines freely.
	CPUAffinity []int

	// Logger receives operational log lines; defaults to logging.Default().
	Logger *logging.Logger
}

func (o Options) validate() error {
	if o.NumWorkers <= 0 {
		return NewError("validate", ErrCodeInvalidConfig, "num_workers must be positive")
	}
	if o.QueueCapacity <= 0 {
		return NewError("validate", ErrCodeInvalidConfig, "queue_capacity must be positive")
	}
	if o.Handler == nil {
		return NewError("validate", ErrCodeInvalidConfig, "handler must not be nil")
	}
	return nil
}

// Server is a bounded request dispatcher: one acceptor, N workers, and a
// shared admission-controlled queue.
type Server struct {
	opts    Options
	logger  *logging.Logger
	ln      net.Listener
	core    *dispatch.Core
	acc     *dispatch.Acceptor
	workers []*dispatch.Worker
	done    chan struct{}
}

// New validates opts and constructs a Server. It does not start listening;
// call ListenAndServe for that.
func New(opts Options) (*Server, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	policy, err := resolvePolicy(opts.Policy)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	core := dispatch.NewCore(opts.QueueCapacity, opts.NumWorkers, policy)
	workers := make([]*dispatch.Worker, opts.NumWorkers)
	for i := range workers {
		workers[i] = dispatch.NewWorker(i, core, opts.Handler, logger).WithCPUAffinity(opts.CPUAffinity)
	}

	return &Server{
		opts:    opts,
		logger:  logger,
		core:    core,
		workers: workers,
		done:    make(chan struct{}),
	}, nil
}

// ListenAndServe opens the listening socket, starts all workers, and runs
// the acceptor loop on the calling goroutine. It blocks until the listener
// is closed (via Stop) or a fatal accept error occurs.
func (s *Server) ListenAndServe() error {
	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", s.opts.Addr)
	if err != nil {
		return WrapError("listen", ErrCodeListenFailed, err)
	}
	s.ln = ln
	s.acc = dispatch.NewAcceptor(ln, s.core, s.logger)

	for _, w := range s.workers {
		go w.Run()
	}

	err = s.acc.Run()
	close(s.done)
	if err != nil {
		return WrapError("accept", ErrCodeAcceptFailed, err)
	}
	return nil
}

// Stop closes the listener and the dispatch core, unblocking the acceptor
// and every worker waiting on the queue. It does not wait for in-flight
// requests to finish; callers that need drain semantics should wait on a
// channel of their own fed from the Handler.
func (s *Server) Stop() error {
	s.core.Close()
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// setReuseAddr is a net.ListenConfig.Control hook that sets SO_REUSEADDR
// on the listening socket before bind, so a restarted server doesn't sit
// in TIME_WAIT against the previous process's connections.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Addr returns the address the server is listening on, or nil if
// ListenAndServe has not yet been called successfully.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
