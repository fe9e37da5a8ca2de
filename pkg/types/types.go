// Package types contains public API types for txbench.
// These types form the external interface of the monitor API and must remain backwards-compatible.
package types

import "time"

// RunKind identifies which workload a run dispatched.
type RunKind string

const (
	KindCreateSubAccounts RunKind = "create-sub-accounts"
	KindCreateContract    RunKind = "create-contract"
	KindCallContract      RunKind = "call-contract"
	KindNativeTransfers   RunKind = "benchmark-native-transfers"
)

// RunStatus represents the current run state.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusDraining  RunStatus = "draining" // dispatch finished, waiting for outstanding responses
	StatusCompleted RunStatus = "completed"
	StatusDegraded  RunStatus = "degraded" // response channel closed before every outcome arrived
	StatusFailed    RunStatus = "failed"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds submit round-trip latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"` // ms
	Max     float64         `json:"max"` // ms
	Avg     float64         `json:"avg"` // ms
	P50     float64         `json:"p50"` // ms
	P90     float64         `json:"p90"` // ms
	P95     float64         `json:"p95"` // ms
	P99     float64         `json:"p99"` // ms
	Buckets []LatencyBucket `json:"buckets"`
}

// RunMetrics is the live view of a run, served by /v1/status and the websocket stream.
type RunMetrics struct {
	RunID       string        `json:"runId,omitempty"`
	Kind        RunKind       `json:"kind,omitempty"`
	Status      RunStatus     `json:"status"`
	WaitUntil   string        `json:"waitUntil,omitempty"`
	Severity    string        `json:"severity,omitempty"`
	Expected    int           `json:"expected"`
	Dispatched  int           `json:"dispatched"`
	Observed    int           `json:"observed"`
	InFlight    int           `json:"inFlight"`
	Capacity    int           `json:"capacity"`
	Violations  int           `json:"violations"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	ElapsedMs   int64         `json:"elapsedMs"`
	ObservedTPS float64       `json:"observedTps"`
	TargetTPS   float64       `json:"targetTps,omitempty"` // pacing ceiling
	Latency     *LatencyStats `json:"latency,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Violation describes one outcome that failed a response check.
type Violation struct {
	Index   int    `json:"index"`
	Account string `json:"account"`
	Nonce   uint64 `json:"nonce"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RunSummary is a condensed run record for list views.
type RunSummary struct {
	ID          string     `json:"id"`
	Kind        RunKind    `json:"kind"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Expected    int        `json:"expected"`
	Observed    int        `json:"observed"`
	Violations  int        `json:"violations"`
	ObservedTPS float64    `json:"observedTps"`
}

// RunDetail is a full stored run including configuration and violation samples.
type RunDetail struct {
	RunSummary
	WaitUntil    string        `json:"waitUntil"`
	Severity     string        `json:"severity"`
	IntervalUs   int64         `json:"intervalUs"`
	Concurrency  int           `json:"concurrency"`
	Dispatched   int           `json:"dispatched"`
	ElapsedMs    int64         `json:"elapsedMs"`
	Latency      *LatencyStats `json:"latency,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Samples      []Violation   `json:"samples,omitempty"`
}

// RunHistoryResponse is returned by GET /v1/runs.
type RunHistoryResponse struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
