package sender

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gateway-fm/txbench/internal/rpc"
)

// Outcome is what one submission unit reports back: the response or the transport error.
type Outcome struct {
	Index     int
	Signer    string
	Nonce     uint64
	TxHash    string
	Requested rpc.TxExecutionStatus
	Response  *rpc.TxResponse
	Err       error
	Latency   time.Duration
}

// Gate bounds the number of submissions whose outcome has not yet been received
// by the collector, and carries those outcomes to it over a single channel.
//
// A slot is taken by Acquire and given back when the collector receives the
// outcome through Next, so a slow collector slows dispatch down.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	outcomes chan Outcome

	outstanding atomic.Int64
	peak        atomic.Int64
	closeOnce   sync.Once
}

// NewGate creates a gate with the given capacity (minimum 1).
func NewGate(capacity int) *Gate {
	capacity = max(capacity, 1)
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		// Every outstanding permit fits in the buffer, so Resolve never blocks.
		outcomes: make(chan Outcome, capacity),
	}
}

// Acquire waits for a free slot. Waiters are served in arrival order.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	n := g.outstanding.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &Permit{gate: g}, nil
}

// Next receives the next outcome and frees its slot. ok is false once the gate
// is closed and drained, or when ctx is done.
func (g *Gate) Next(ctx context.Context) (o Outcome, ok bool) {
	select {
	case o, ok = <-g.outcomes:
		if ok {
			g.sem.Release(1)
		}
		return o, ok
	case <-ctx.Done():
		return Outcome{}, false
	}
}

// Close signals that no further outcomes will be sent.
// Callers must ensure every permit has been resolved or abandoned first.
func (g *Gate) Close() {
	g.closeOnce.Do(func() { close(g.outcomes) })
}

// Capacity returns the gate capacity.
func (g *Gate) Capacity() int { return g.capacity }

// Outstanding returns the number of acquired permits not yet resolved.
func (g *Gate) Outstanding() int { return int(g.outstanding.Load()) }

// PeakOutstanding returns the highest Outstanding value observed.
func (g *Gate) PeakOutstanding() int { return int(g.peak.Load()) }

// Permit is the right to deliver exactly one outcome.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Resolve delivers the outcome. Only the first Resolve or Abandon has an effect.
func (p *Permit) Resolve(o Outcome) {
	p.once.Do(func() {
		p.gate.outstanding.Add(-1)
		p.gate.outcomes <- o
	})
}

// Abandon gives the slot back without delivering an outcome.
func (p *Permit) Abandon() {
	p.once.Do(func() {
		p.gate.outstanding.Add(-1)
		p.gate.sem.Release(1)
	})
}
