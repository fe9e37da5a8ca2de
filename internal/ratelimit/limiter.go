// Package ratelimit provides the fixed-interval pacer that paces dispatch.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// MinInterval is the shortest interval a Limiter accepts.
const MinInterval = time.Microsecond

// Limiter issues at most one tick per interval.
//
// It is a token bucket holding a single token: the first tick is immediate,
// at most one tick is buffered while the consumer is busy, and ticks missed
// while the consumer was slow collapse into that one instead of bursting.
type Limiter struct {
	lim      *rate.Limiter
	interval time.Duration
}

// New creates a Limiter ticking every interval. Intervals below MinInterval are clamped.
func New(interval time.Duration) *Limiter {
	interval = max(interval, MinInterval)
	return &Limiter{lim: rate.NewLimiter(rate.Every(interval), 1), interval: interval}
}

// Wait blocks until the next tick or until ctx is done.
// A cancelled wait does not consume a tick.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Interval returns the tick interval.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Rate returns the tick rate per second, the ceiling on dispatch throughput.
func (l *Limiter) Rate() float64 {
	return float64(time.Second) / float64(l.interval)
}
