package dispatch

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nahelawi/sysresource/internal/logging"
)

// Worker is one of the N long-lived workers that dequeue, measure
// dispatch latency, delegate to the handler, and maintain per-worker
// counters (spec §4.4).
type Worker struct {
	id          int
	core        *Core
	handler     Handler
	logger      *logging.Logger
	counters    workerCounters
	cpuAffinity []int
}

func NewWorker(id int, core *Core, handler Handler, logger *logging.Logger) *Worker {
	return &Worker{id: id, core: core, handler: handler, logger: logger}
}

// WithCPUAffinity pins the worker's OS thread to one CPU out of cpus,
// chosen round-robin by worker id (worker i -> cpus[i % len(cpus)]). A nil
// or empty slice leaves the worker unpinned.
func (w *Worker) WithCPUAffinity(cpus []int) *Worker {
	w.cpuAffinity = cpus
	return w
}

// Run executes the worker loop until the Core is closed. It never
// returns an error: handler failures are reported through the HTTP
// response by the handler itself (spec §7), not surfaced here.
func (w *Worker) Run() {
	if len(w.cpuAffinity) > 0 {
		// Pin the OS thread before touching the queue, the same order the
		// teacher's ioLoop locks the thread before setting affinity.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		cpu := w.cpuAffinity[w.id%len(w.cpuAffinity)]
		var mask unix.CPUSet
		mask.Set(cpu)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			if w.logger != nil {
				w.logger.Errorf("worker %d: set CPU affinity to %d: %v", w.id, cpu, err)
			}
			// Continue without affinity - not fatal.
		} else if w.logger != nil {
			w.logger.Debugf("worker %d: pinned to CPU %d", w.id, cpu)
		}
	}

	for {
		req, stats, ok := w.dequeue()
		if !ok {
			return
		}

		result := w.handler.Handle(req.Conn, stats)

		w.finish(result)
		req.Conn.Close()
	}
}

// dequeue waits for a request, removes it from the queue, installs it
// into this worker's in-flight slot, and snapshots stats — all under
// Core's lock, matching spec §4.4 exactly including the dispatch_interval
// computation and the not_full signal immediately after install.
func (w *Worker) dequeue() (Request, Stats, bool) {
	c := w.core
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.queue.size == 0 {
		if c.closed {
			return Request{}, Stats{}, false
		}
		c.notEmpty.Wait()
		if c.closed && c.queue.size == 0 {
			return Request{}, Stats{}, false
		}
	}

	req := c.queue.dequeue()
	now := time.Now()
	req.DispatchInterval = now.Sub(req.ArrivalTime)

	c.inFlight[w.id] = req
	c.inFlightCount++

	stats := Stats{
		ArrivalTime:          req.ArrivalTime,
		DispatchInterval:     req.DispatchInterval,
		ThreadID:             w.id,
		RequestsCount:        w.counters.total,
		StaticRequestsCount:  w.counters.static,
		DynamicRequestsCount: w.counters.dynamic,
	}

	c.notFull.Signal()

	return req, stats, true
}

// finish records the outcome of a handled request: increments total and
// the static/dynamic counter implied by result, clears this worker's
// in-flight slot, and signals not_full (spec §4.4's post-handle phase).
func (w *Worker) finish(result ResultCode) {
	c := w.core
	c.mu.Lock()
	defer c.mu.Unlock()

	w.counters.total++
	switch result {
	case ResultStatic:
		w.counters.static++
	case ResultDynamic:
		w.counters.dynamic++
	}

	c.inFlight[w.id] = Request{}
	c.inFlightCount--
	c.notFull.Signal()
}
