package dispatch

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  []Stats
	codes map[string]ResultCode
}

func (h *recordingHandler) Handle(conn net.Conn, stats Stats) ResultCode {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, stats)
	name := string(conn.(fakeConn))
	if code, ok := h.codes[name]; ok {
		return code
	}
	return ResultStatic
}

func TestWorker_CountersReflectPreRequestSnapshot(t *testing.T) {
	c := NewCore(4, 1, BlockPolicy{})
	handler := &recordingHandler{codes: map[string]ResultCode{}}
	w := NewWorker(0, c, handler, nil)

	c.mu.Lock()
	c.queue.enqueue(Request{Conn: fakeConn("r1"), ArrivalTime: time.Now()})
	c.queue.enqueue(Request{Conn: fakeConn("r2"), ArrivalTime: time.Now()})
	c.mu.Unlock()

	req1, stats1, ok := w.dequeue()
	require.True(t, ok)
	assert.Equal(t, 0, stats1.RequestsCount)
	assert.Equal(t, 0, stats1.StaticRequestsCount)
	w.finish(ResultStatic)
	req1.Conn.Close()

	req2, stats2, ok := w.dequeue()
	require.True(t, ok)
	// Snapshot reflects totals *before* this request is counted (spec §4.4).
	assert.Equal(t, 1, stats2.RequestsCount)
	assert.Equal(t, 1, stats2.StaticRequestsCount)
	w.finish(ResultDynamic)
	req2.Conn.Close()

	assert.Equal(t, 2, w.counters.total)
	assert.Equal(t, 1, w.counters.static)
	assert.Equal(t, 1, w.counters.dynamic)
}

func TestWorker_DequeueUnblocksOnClose(t *testing.T) {
	c := NewCore(1, 1, BlockPolicy{})
	w := NewWorker(0, c, &recordingHandler{codes: map[string]ResultCode{}}, nil)

	done := make(chan bool, 1)
	go func() {
		_, _, ok := w.dequeue()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("dequeue never unblocked after Core.Close")
	}
}

func TestWorker_Run_HandlesUntilClosed(t *testing.T) {
	c := NewCore(4, 1, BlockPolicy{})
	handler := &recordingHandler{codes: map[string]ResultCode{}}
	w := NewWorker(0, c, handler, nil)

	c.mu.Lock()
	c.queue.enqueue(Request{Conn: fakeConn("only"), ArrivalTime: time.Now()})
	c.mu.Unlock()
	c.notEmpty.Signal()

	finished := make(chan struct{})
	go func() {
		w.Run()
		close(finished)
	}()

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.seen) == 1
	}, time.Second, 5*time.Millisecond)

	c.Close()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("worker.Run never returned after Core.Close")
	}
}
