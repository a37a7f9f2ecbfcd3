package dispatch

import (
	"net"
	"time"
)

// fakeConn is a minimal net.Conn double identified by name, used so tests
// can assert on queue ordering and policy drops without opening real
// sockets. Two fakeConns compare equal (via Go's built-in ==, which
// Request{} values use transitively) iff they share the same name.
type fakeConn string

func (f fakeConn) Read(b []byte) (int, error)  { return 0, nil }
func (f fakeConn) Write(b []byte) (int, error) { return len(b), nil }
func (f fakeConn) Close() error                { closedConns = append(closedConns, string(f)); return nil }
func (f fakeConn) LocalAddr() net.Addr         { return nil }
func (f fakeConn) RemoteAddr() net.Addr        { return nil }
func (f fakeConn) SetDeadline(time.Time) error { return nil }
func (f fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f fakeConn) SetWriteDeadline(time.Time) error { return nil }

// closedConns records Close() calls across a test; tests that care reset
// it at the start of their own run.
var closedConns []string

var _ net.Conn = fakeConn("")
