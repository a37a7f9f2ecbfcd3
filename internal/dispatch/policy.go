package dispatch

import (
	"math/rand"
	"net"
	"time"
)

// AcceptFunc obtains the next connection from the listener along with its
// arrival timestamp. Policies that must accept a replacement connection
// (drop_tail, and drop_head/drop_random's drop_tail fallback) call this
// with the Core's lock released, exactly as the acceptor does for its own
// primary accept loop (spec §4.3: "release lock, accept the next
// connection, reacquire lock").
type AcceptFunc func() (net.Conn, time.Time, error)

// Policy is the overload decision procedure invoked by the acceptor while
// holding Core's lock and the queue at capacity (spec §4.3). Implementations
// must leave the queue in a state where queue.size+in_flight < capacity on
// return, or must have dropped the incoming connection (in which case the
// returned Request's Conn may be a freshly-accepted replacement, or the
// original connection unchanged).
//
// Apply runs with c.mu held on entry and must return with c.mu held.
type Policy interface {
	Name() string
	Apply(c *Core, current Request, accept AcceptFunc) (Request, error)
}

// BlockPolicy waits on notFull (spec §4.3 "block"). It releases and
// reacquires c.mu internally via sync.Cond.Wait.
type BlockPolicy struct{}

func (BlockPolicy) Name() string { return "block" }

func (BlockPolicy) Apply(c *Core, current Request, accept AcceptFunc) (Request, error) {
	c.notFull.Wait()
	return current, nil
}

// DropTailPolicy closes the just-accepted connection and accepts a
// replacement (spec §4.3 "drop_tail").
type DropTailPolicy struct{}

func (DropTailPolicy) Name() string { return "dt" }

func (DropTailPolicy) Apply(c *Core, current Request, accept AcceptFunc) (Request, error) {
	return dropTail(c, current, accept)
}

func dropTail(c *Core, current Request, accept AcceptFunc) (Request, error) {
	if current.Conn != nil {
		current.Conn.Close()
	}
	c.mu.Unlock()
	conn, arrival, err := accept()
	c.mu.Lock()
	if err != nil {
		return Request{}, err
	}
	return Request{Conn: conn, ArrivalTime: arrival}, nil
}

// DropHeadPolicy closes the connection currently at the head of the
// queue, freeing one slot (spec §4.3 "drop_head"). When the queue is
// empty — meaning every unit of capacity is in-flight, not queued — it
// falls back to drop_tail, since there is no queued head to drop.
type DropHeadPolicy struct{}

func (DropHeadPolicy) Name() string { return "dh" }

func (DropHeadPolicy) Apply(c *Core, current Request, accept AcceptFunc) (Request, error) {
	if c.queue.size == 0 {
		return dropTail(c, current, accept)
	}
	dropped := c.queue.dropHead()
	if dropped.Conn != nil {
		dropped.Conn.Close()
	}
	return current, nil
}

// DropRandomPolicy drops roughly half of the queued requests, chosen
// uniformly without replacement, preserving the relative order of the
// kept subsequence (spec §4.3 "drop_random"). When the queue is empty it
// falls back to drop_tail, matching drop_head's fallback for the same
// reason. A queue of size 1 drops its sole entry (floor(1/2) == 0); this
// is intentional degenerate behavior, documented in spec.md §9 and left
// as-is rather than special-cased.
type DropRandomPolicy struct {
	// Rand is the source of randomness; nil uses the package-level
	// default (auto-seeded since Go 1.20). Tests inject a seeded Rand
	// for determinism.
	Rand *rand.Rand
}

func (DropRandomPolicy) Name() string { return "random" }

func (p DropRandomPolicy) Apply(c *Core, current Request, accept AcceptFunc) (Request, error) {
	if c.queue.size == 0 {
		return dropTail(c, current, accept)
	}

	n := c.queue.size
	keep := n / 2 // floor(n/2); this many are kept.

	kept := pickKeptMask(n, keep, p.intn())

	dropped := c.queue.compactKept(kept)
	for _, req := range dropped {
		if req.Conn != nil {
			req.Conn.Close()
		}
	}
	return current, nil
}

// intn returns p.Rand.Intn when a Rand was injected (tests), or the
// package-level generator otherwise. rand.Intn itself is backed by a
// lock-guarded global source and safe to call repeatedly in quick
// succession, unlike a fresh per-call time-seeded Rand, which can produce
// correlated draws when Apply runs several times within the same
// nanosecond tick under sustained overload.
func (p DropRandomPolicy) intn() func(int) int {
	if p.Rand != nil {
		return p.Rand.Intn
	}
	return rand.Intn
}

// pickKeptMask selects keep distinct indices out of [0,n) uniformly at
// random, without replacement, using the pick-and-swap scheme spec.md §4.3
// prescribes: maintain an index array, repeatedly swap a randomly chosen
// remaining index to the end and mark it kept. Returns a boolean mask of
// length n, true at kept positions, in O(n) time and space.
func pickKeptMask(n, keep int, intn func(int) int) []bool {
	indexes := make([]int, n)
	for i := range indexes {
		indexes[i] = i
	}
	kept := make([]bool, n)
	for i := 0; i < keep; i++ {
		j := intn(n - i)
		kept[indexes[j]] = true
		indexes[j] = indexes[n-i-1]
	}
	return kept
}
