package pipeline

import (
	"time"

	"github.com/gateway-fm/txbench/internal/rpc"
	"github.com/gateway-fm/txbench/internal/verification"
	"github.com/gateway-fm/txbench/pkg/types"
)

// Report is the result of one run.
type Report struct {
	ID          string
	Kind        types.RunKind
	Status      types.RunStatus
	StartedAt   time.Time
	CompletedAt time.Time

	Expected     int
	Dispatched   int
	BuildErrors  int
	Observed     int
	Succeeded    int
	Violations   int
	PeakInFlight int

	Elapsed     time.Duration // first to last observed outcome
	ObservedTPS float64
	Latency     *types.LatencyStats
	Samples     []verification.Violation

	WaitUntil   rpc.TxExecutionStatus
	Severity    verification.Severity
	Interval    time.Duration
	Concurrency int

	Err error
}

// Detail converts the report into the stored and served representation.
func (r *Report) Detail() types.RunDetail {
	completed := r.CompletedAt
	d := types.RunDetail{
		RunSummary: types.RunSummary{
			ID:          r.ID,
			Kind:        r.Kind,
			Status:      r.Status,
			StartedAt:   r.StartedAt,
			CompletedAt: &completed,
			Expected:    r.Expected,
			Observed:    r.Observed,
			Violations:  r.Violations,
			ObservedTPS: r.ObservedTPS,
		},
		WaitUntil:   r.WaitUntil.String(),
		Severity:    r.Severity.String(),
		IntervalUs:  r.Interval.Microseconds(),
		Concurrency: r.Concurrency,
		Dispatched:  r.Dispatched,
		ElapsedMs:   r.Elapsed.Milliseconds(),
		Latency:     r.Latency,
	}
	if r.Err != nil {
		d.ErrorMessage = r.Err.Error()
	}
	for _, v := range r.Samples {
		d.Samples = append(d.Samples, types.Violation{
			Index:   v.Index,
			Account: v.Signer,
			Nonce:   v.Nonce,
			Kind:    string(v.Kind),
			Message: v.Detail,
		})
	}
	return d
}
