package dispatch

import (
	"sync"
)

// Core holds the request queue and the in-flight registry behind a single
// mutex and two condition variables (spec §3/§5: "one mutex and two
// condition variables shared by acceptor and workers"). All field access
// outside of Core's own methods must go through Lock/Unlock.
type Core struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	queue    *ring
	capacity int

	inFlight      []Request
	inFlightCount int

	policy Policy

	closed bool
}

// NewCore builds a Core with the given total capacity and worker count.
// capacity bounds queue.size + in_flight_count (spec §3's global admission
// invariant); numWorkers sizes the in-flight slot table (spec §3's
// "In-flight table").
func NewCore(capacity, numWorkers int, policy Policy) *Core {
	c := &Core{
		queue:    newRing(capacity),
		capacity: capacity,
		inFlight: make([]Request, numWorkers),
		policy:   policy,
	}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// pending returns queue.size + in_flight_count. Caller must hold c.mu.
func (c *Core) pending() int {
	return c.queue.size + c.inFlightCount
}

// Close wakes every blocked worker and acceptor so they can observe
// closed and return; it does not close any connections itself (those are
// owned by whichever goroutine currently holds them, per spec §5's
// fd-ownership-transfer rule).
func (c *Core) Close() {
	c.mu.Lock()
	c.closed = true
	c.notEmpty.Broadcast()
	c.notFull.Broadcast()
	c.mu.Unlock()
}

// QueueSize returns the current number of queued (not yet dispatched)
// requests. Intended for tests and metrics; takes the lock itself.
func (c *Core) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.size
}

// InFlightCount returns the number of workers currently handling a
// request.
func (c *Core) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlightCount
}
