package engine

import (
	"errors"
	"sync/atomic"
)

// GateMetrics tracks executor occupancy of the concurrency gate.
type GateMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// ErrGateClosed is returned when a slot is requested from a closed gate.
var ErrGateClosed = errors.New("concurrency gate is closed")

// Gate bounds the number of workflow executors running at once. A zero or
// negative size means unbounded. Instances that cannot get a slot stay
// PENDING until one frees up or they are stopped.
type Gate struct {
	sem     chan struct{}
	done    chan struct{}
	metrics GateMetrics
}

// NewGate creates a gate with the given max concurrency.
func NewGate(size int) *Gate {
	g := &Gate{done: make(chan struct{})}
	if size > 0 {
		g.sem = make(chan struct{}, size)
	}
	return g
}

// Acquire blocks until a slot is free, the caller's stop channel fires, or
// the gate is closed.
func (g *Gate) Acquire(stop <-chan struct{}) error {
	if g.sem == nil {
		atomic.AddInt64(&g.metrics.Active, 1)
		return nil
	}
	select {
	case g.sem <- struct{}{}:
		atomic.AddInt64(&g.metrics.Active, 1)
		return nil
	case <-stop:
		return errors.New("stopped while waiting for slot")
	case <-g.done:
		return ErrGateClosed
	}
}

// Release frees the slot. failed records whether the occupying executor
// ended with a failure-class status.
func (g *Gate) Release(failed bool) {
	atomic.AddInt64(&g.metrics.Active, -1)
	if failed {
		atomic.AddInt64(&g.metrics.Failed, 1)
	} else {
		atomic.AddInt64(&g.metrics.Completed, 1)
	}
	if g.sem != nil {
		select {
		case <-g.sem:
		default:
		}
	}
}

// Close prevents further acquisitions. Held slots drain normally.
func (g *Gate) Close() {
	select {
	case <-g.done:
	default:
		close(g.done)
	}
}

// Metrics returns a snapshot of the current gate metrics.
func (g *Gate) Metrics() GateMetrics {
	return GateMetrics{
		Active:    atomic.LoadInt64(&g.metrics.Active),
		Completed: atomic.LoadInt64(&g.metrics.Completed),
		Failed:    atomic.LoadInt64(&g.metrics.Failed),
	}
}
