// Package dispatch implements the admission-control and dispatch core of
// the bounded request server: a fixed-capacity request queue shared by one
// acceptor and N workers, governed by a pluggable overload policy.
package dispatch

import (
	"net"
	"time"
)

// Request is an accepted connection paired with the timestamp the acceptor
// obtained it. dispatchInterval is filled in by the worker at dequeue time.
type Request struct {
	Conn             net.Conn
	ArrivalTime      time.Time
	DispatchInterval time.Duration
}

// empty reports whether r is the zero Request, used to detect unoccupied
// ring buffer and in-flight slots without a separate "valid" flag.
func (r Request) empty() bool {
	return r.Conn == nil
}
