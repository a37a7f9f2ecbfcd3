// Package brd implements a bounded, multithreaded HTTP/1.0 request
// dispatcher: a fixed-capacity queue shared by one acceptor and N workers,
// governed by a pluggable overload policy (block, drop_tail, drop_head,
// drop_random). The admission invariant held throughout is
// queue.size + in_flight_count <= capacity.
package brd
