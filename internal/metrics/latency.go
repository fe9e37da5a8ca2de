// Package metrics provides run metrics: Prometheus collectors and latency statistics.
package metrics

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/gateway-fm/txbench/pkg/types"
)

// DefaultReservoirSize is the number of samples kept for percentile estimation.
const DefaultReservoirSize = 10000

// submitBuckets are upper bounds (ms) of the reported histogram. send_tx blocks
// until the requested level, so latencies span from milliseconds to block times.
var submitBuckets = []struct {
	bound float64
	label string
}{
	{100, "0-100ms"},
	{500, "100-500ms"},
	{2000, "500ms-2s"},
	{5000, "2-5s"},
	{math.Inf(1), "5s+"},
}

// LatencyRecorder keeps streaming statistics of submit round trips.
// Percentiles come from a fixed-size reservoir (Vitter's algorithm R), so memory
// stays bounded however long the run is. Safe for concurrent use.
type LatencyRecorder struct {
	mu sync.Mutex

	count   int64
	sumMs   float64
	minMs   float64
	maxMs   float64
	buckets []int

	reservoir []float64
	capacity  int
	rng       *rand.Rand
}

// NewLatencyRecorder creates a recorder with the default reservoir size.
func NewLatencyRecorder() *LatencyRecorder {
	return NewLatencyRecorderSize(DefaultReservoirSize)
}

// NewLatencyRecorderSize creates a recorder keeping at most size samples.
func NewLatencyRecorderSize(size int) *LatencyRecorder {
	size = max(size, 1)
	return &LatencyRecorder{
		minMs:     math.MaxFloat64,
		buckets:   make([]int, len(submitBuckets)),
		reservoir: make([]float64, 0, size),
		capacity:  size,
		rng:       rand.New(rand.NewPCG(1, 2)),
	}
}

// Observe records one latency.
func (r *LatencyRecorder) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	r.sumMs += ms
	r.minMs = min(r.minMs, ms)
	r.maxMs = max(r.maxMs, ms)

	for i, b := range submitBuckets {
		if ms < b.bound {
			r.buckets[i]++
			break
		}
	}

	if len(r.reservoir) < r.capacity {
		r.reservoir = append(r.reservoir, ms)
		return
	}
	if j := r.rng.Int64N(r.count); j < int64(r.capacity) {
		r.reservoir[j] = ms
	}
}

// Count returns the number of observations.
func (r *LatencyRecorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Snapshot returns the current statistics, or nil before the first observation.
func (r *LatencyRecorder) Snapshot() *types.LatencyStats {
	r.mu.Lock()
	if r.count == 0 {
		r.mu.Unlock()
		return nil
	}
	sorted := slices.Clone(r.reservoir)
	stats := &types.LatencyStats{
		Count: int(r.count),
		Min:   r.minMs,
		Max:   r.maxMs,
		Avg:   r.sumMs / float64(r.count),
	}
	stats.Buckets = make([]types.LatencyBucket, len(submitBuckets))
	for i, b := range submitBuckets {
		stats.Buckets[i] = types.LatencyBucket{Label: b.label, Count: r.buckets[i]}
	}
	r.mu.Unlock()

	slices.Sort(sorted)
	stats.P50 = percentile(sorted, 0.50)
	stats.P90 = percentile(sorted, 0.90)
	stats.P95 = percentile(sorted, 0.95)
	stats.P99 = percentile(sorted, 0.99)
	return stats
}

// percentile interpolates linearly between the two nearest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
