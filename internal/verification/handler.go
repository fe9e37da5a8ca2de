package verification

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/txbench/internal/metrics"
	"github.com/gateway-fm/txbench/internal/sender"
)

// DefaultMaxSamples bounds the violations kept for reporting under SeverityLog.
const DefaultMaxSamples = 100

// OutcomeSource is the single ordered stream of outcomes. ok is false once the
// stream is closed or ctx is done.
type OutcomeSource interface {
	Next(ctx context.Context) (o sender.Outcome, ok bool)
}

// Observer is told when each outcome is received.
type Observer interface {
	Observe(at time.Time)
}

// Config for creating a ResponseHandler.
type Config struct {
	Source     OutcomeSource
	Expected   int
	Severity   Severity
	Kind       string // run kind, for metric labels
	Observer   Observer
	Metrics    *metrics.PipelineMetrics
	MaxSamples int
	Logger     *slog.Logger
}

// Summary describes what the collector saw.
type Summary struct {
	Expected        int
	Observed        int
	Succeeded       int
	Violations      int // outcomes with at least one violation
	TransportErrors int
	Samples         []Violation
	// Early is set when the stream closed before Expected outcomes arrived.
	Early bool
}

// ResponseHandler consumes outcomes, checks each one and applies the severity policy.
type ResponseHandler struct {
	source     OutcomeSource
	expected   int
	severity   Severity
	kind       string
	observer   Observer
	metrics    *metrics.PipelineMetrics
	maxSamples int
	logger     *slog.Logger

	observed   atomic.Int64
	violations atomic.Int64
}

// NewResponseHandler creates a handler.
func NewResponseHandler(cfg Config) *ResponseHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSamples := cfg.MaxSamples
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &ResponseHandler{
		source:     cfg.Source,
		expected:   cfg.Expected,
		severity:   cfg.Severity,
		kind:       cfg.Kind,
		observer:   cfg.Observer,
		metrics:    cfg.Metrics,
		maxSamples: maxSamples,
		logger:     logger.With(slog.String("component", "collector")),
	}
}

// Observed returns the number of outcomes received so far.
func (h *ResponseHandler) Observed() int { return int(h.observed.Load()) }

// Violations returns the number of violating outcomes so far.
func (h *ResponseHandler) Violations() int { return int(h.violations.Load()) }

// HandleAll receives exactly the expected number of outcomes, or fewer if the
// stream closes early. A transport error, or any violation under SeverityAssert,
// stops the loop and is returned.
func (h *ResponseHandler) HandleAll(ctx context.Context) (Summary, error) {
	sum := Summary{Expected: h.expected}

	for sum.Observed < h.expected {
		o, ok := h.source.Next(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return sum, fmt.Errorf("collector interrupted after %d of %d outcomes: %w", sum.Observed, h.expected, err)
			}
			sum.Early = true
			h.logger.Warn("response stream closed early",
				slog.Int("expected", h.expected),
				slog.Int("observed", sum.Observed),
				slog.Int("missing", h.expected-sum.Observed),
			)
			return sum, nil
		}

		sum.Observed++
		h.observed.Add(1)
		if h.observer != nil {
			h.observer.Observe(time.Now())
		}

		if o.Err != nil {
			sum.TransportErrors++
			h.record(metrics.ClassTransport)
			h.logger.Error("submission failed",
				slog.Int("index", o.Index),
				slog.String("signer", o.Signer),
				slog.Uint64("nonce", o.Nonce),
				slog.String("tx_hash", o.TxHash),
				slog.String("error", o.Err.Error()),
			)
			return sum, fmt.Errorf("%w: item %d (%s nonce %d): %v", ErrTransport, o.Index, o.Signer, o.Nonce, o.Err)
		}

		vs := CheckResponse(o.Response, o.Requested)
		if len(vs) == 0 {
			sum.Succeeded++
			h.record(metrics.ClassSuccess)
			continue
		}

		for i := range vs {
			vs[i].Index = o.Index
			vs[i].Signer = o.Signer
			vs[i].Nonce = o.Nonce
			vs[i].TxHash = o.TxHash
			if h.metrics != nil {
				h.metrics.RecordViolation(string(vs[i].Kind))
			}
		}
		sum.Violations++
		h.violations.Add(1)
		h.record(metrics.ClassViolation)
		for _, v := range vs {
			if len(sum.Samples) >= h.maxSamples {
				break
			}
			sum.Samples = append(sum.Samples, v)
		}

		if h.severity == SeverityAssert {
			return sum, &ViolationError{Violations: vs}
		}
		h.logger.Warn("response check failed",
			slog.Int("index", o.Index),
			slog.String("signer", o.Signer),
			slog.Uint64("nonce", o.Nonce),
			slog.String("tx_hash", o.TxHash),
			slog.Any("violations", violationStrings(vs)),
		)
	}

	return sum, nil
}

func (h *ResponseHandler) record(class string) {
	if h.metrics != nil {
		h.metrics.RecordOutcome(h.kind, class)
	}
}

func violationStrings(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}
