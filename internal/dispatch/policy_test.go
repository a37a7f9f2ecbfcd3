package dispatch

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(capacity, workers int, p Policy) *Core {
	return NewCore(capacity, workers, p)
}

func TestBlockPolicy_WaitsThenAdmits(t *testing.T) {
	c := newTestCore(1, 1, BlockPolicy{})
	c.mu.Lock()
	c.queue.enqueue(Request{Conn: fakeConn("already-queued")})
	c.mu.Unlock()

	released := make(chan struct{})
	go func() {
		c.mu.Lock()
		req, err := BlockPolicy{}.Apply(c, Request{Conn: fakeConn("waiting")}, nil)
		require.NoError(t, err)
		assert.Equal(t, fakeConn("waiting"), req.Conn)
		c.mu.Unlock()
		close(released)
	}()

	// give the goroutine time to block on notFull.Wait()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-released:
		t.Fatal("block policy returned before notFull was signalled")
	default:
	}

	c.mu.Lock()
	c.notFull.Signal()
	c.mu.Unlock()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("block policy never woke up after notFull signal")
	}
}

func TestDropTailPolicy_ClosesIncomingAndAcceptsReplacement(t *testing.T) {
	closedConns = nil
	c := newTestCore(1, 1, DropTailPolicy{})
	accept := func() (net.Conn, time.Time, error) {
		return fakeConn("replacement"), time.Now(), nil
	}

	c.mu.Lock()
	req, err := DropTailPolicy{}.Apply(c, Request{Conn: fakeConn("incoming")}, accept)
	c.mu.Unlock()

	require.NoError(t, err)
	assert.Equal(t, fakeConn("replacement"), req.Conn)
	assert.Contains(t, closedConns, "incoming")
}

func TestDropHeadPolicy_DropsQueuedHead(t *testing.T) {
	closedConns = nil
	c := newTestCore(2, 1, DropHeadPolicy{})
	c.mu.Lock()
	c.queue.enqueue(Request{Conn: fakeConn("head")})
	c.queue.enqueue(Request{Conn: fakeConn("tail")})

	req, err := DropHeadPolicy{}.Apply(c, Request{Conn: fakeConn("incoming")}, nil)
	c.mu.Unlock()

	require.NoError(t, err)
	assert.Equal(t, fakeConn("incoming"), req.Conn, "drop_head keeps the incoming connection")
	assert.Contains(t, closedConns, "head")
	assert.Equal(t, 1, c.queue.size)
	assert.Equal(t, fakeConn("tail"), c.queue.peekHead().Conn)
}

func TestDropHeadPolicy_FallsBackToDropTailWhenQueueEmpty(t *testing.T) {
	closedConns = nil
	c := newTestCore(1, 1, DropHeadPolicy{})
	accept := func() (net.Conn, time.Time, error) {
		return fakeConn("replacement"), time.Now(), nil
	}

	c.mu.Lock()
	req, err := DropHeadPolicy{}.Apply(c, Request{Conn: fakeConn("incoming")}, accept)
	c.mu.Unlock()

	require.NoError(t, err)
	assert.Equal(t, fakeConn("replacement"), req.Conn)
	assert.Contains(t, closedConns, "incoming")
}

func TestDropRandomPolicy_KeepsFloorHalfInOrder(t *testing.T) {
	closedConns = nil
	c := newTestCore(4, 1, DropRandomPolicy{})
	c.mu.Lock()
	c.queue.enqueue(Request{Conn: fakeConn("A")})
	c.queue.enqueue(Request{Conn: fakeConn("B")})
	c.queue.enqueue(Request{Conn: fakeConn("C")})
	c.queue.enqueue(Request{Conn: fakeConn("D")})

	p := DropRandomPolicy{Rand: rand.New(rand.NewSource(1))}
	req, err := p.Apply(c, Request{Conn: fakeConn("incoming")}, nil)
	c.mu.Unlock()

	require.NoError(t, err)
	assert.Equal(t, fakeConn("incoming"), req.Conn)
	assert.Equal(t, 2, c.queue.size)
	assert.Len(t, closedConns, 2)

	// whichever two survived, they must appear in their original relative order
	kept := []string{string(c.queue.at(0).Conn.(fakeConn)), string(c.queue.at(1).Conn.(fakeConn))}
	order := map[string]int{"A": 0, "B": 1, "C": 2, "D": 3}
	assert.Less(t, order[kept[0]], order[kept[1]])
}

func TestDropRandomPolicy_SizeOneDropsSoleEntry(t *testing.T) {
	closedConns = nil
	c := newTestCore(2, 1, DropRandomPolicy{})
	c.mu.Lock()
	c.queue.enqueue(Request{Conn: fakeConn("only")})

	p := DropRandomPolicy{Rand: rand.New(rand.NewSource(1))}
	req, err := p.Apply(c, Request{Conn: fakeConn("incoming")}, nil)
	c.mu.Unlock()

	require.NoError(t, err)
	assert.Equal(t, fakeConn("incoming"), req.Conn)
	assert.Equal(t, 0, c.queue.size)
	assert.Contains(t, closedConns, "only")
}

func TestDropRandomPolicy_FallsBackToDropTailWhenEmpty(t *testing.T) {
	closedConns = nil
	c := newTestCore(1, 1, DropRandomPolicy{})
	accept := func() (net.Conn, time.Time, error) {
		return fakeConn("replacement"), time.Now(), nil
	}

	c.mu.Lock()
	req, err := DropRandomPolicy{}.Apply(c, Request{Conn: fakeConn("incoming")}, accept)
	c.mu.Unlock()

	require.NoError(t, err)
	assert.Equal(t, fakeConn("replacement"), req.Conn)
}

func TestPickKeptMask_PicksExactCount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	mask := pickKeptMask(10, 4, rng.Intn)
	count := 0
	for _, k := range mask {
		if k {
			count++
		}
	}
	assert.Equal(t, 4, count)
}
