package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Barrier lets the run wait for the collector and measures observed throughput.
// Elapsed time runs from the first observed outcome to the last one.
type Barrier struct {
	expected int
	observed atomic.Int64
	firstNs  atomic.Int64
	lastNs   atomic.Int64
	degraded atomic.Bool

	done chan struct{}
	once sync.Once
}

// BarrierResult is the final view of the barrier.
type BarrierResult struct {
	Expected int
	Observed int
	Elapsed  time.Duration
	Degraded bool
}

// Throughput returns observed outcomes per second, 0 when elapsed is 0.
func (r BarrierResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Observed) / r.Elapsed.Seconds()
}

// NewBarrier creates a barrier expecting n outcomes.
func NewBarrier(n int) *Barrier {
	return &Barrier{expected: n, done: make(chan struct{})}
}

// Observe records one outcome received at at.
func (b *Barrier) Observe(at time.Time) {
	ns := at.UnixNano()
	b.firstNs.CompareAndSwap(0, ns)
	b.lastNs.Store(ns)
	b.observed.Add(1)
}

// Finish releases waiters. degraded reports that the stream closed before every outcome arrived.
func (b *Barrier) Finish(degraded bool) {
	b.once.Do(func() {
		b.degraded.Store(degraded || int(b.observed.Load()) < b.expected)
		close(b.done)
	})
}

// Wait blocks until Finish or ctx is done.
func (b *Barrier) Wait(ctx context.Context) (BarrierResult, error) {
	select {
	case <-b.done:
		return b.result(), nil
	case <-ctx.Done():
		return b.result(), ctx.Err()
	}
}

// Observed returns the outcomes observed so far.
func (b *Barrier) Observed() int { return int(b.observed.Load()) }

// Elapsed returns time since the first outcome: up to the last one once finished,
// up to now while running.
func (b *Barrier) Elapsed() time.Duration {
	first := b.firstNs.Load()
	if first == 0 {
		return 0
	}
	select {
	case <-b.done:
		return time.Duration(b.lastNs.Load() - first)
	default:
		return time.Since(time.Unix(0, first))
	}
}

func (b *Barrier) result() BarrierResult {
	return BarrierResult{
		Expected: b.expected,
		Observed: b.Observed(),
		Elapsed:  b.Elapsed(),
		Degraded: b.degraded.Load(),
	}
}
