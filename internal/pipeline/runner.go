package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/txbench/internal/metrics"
	"github.com/gateway-fm/txbench/internal/ratelimit"
	"github.com/gateway-fm/txbench/internal/rpc"
	"github.com/gateway-fm/txbench/internal/sender"
	"github.com/gateway-fm/txbench/internal/verification"
	"github.com/gateway-fm/txbench/pkg/types"
)

// ErrRunActive is returned when Run is called while another run is in progress.
var ErrRunActive = errors.New("a run is already in progress")

const inFlightSampleInterval = 100 * time.Millisecond

// Config for creating a Runner.
type Config struct {
	Client         sender.Submitter
	Blocks         BlockHashSource
	Interval       time.Duration // pacing interval between dispatches
	Concurrency    int           // admission gate capacity
	WaitUntil      rpc.TxExecutionStatus
	Severity       verification.Severity
	RequestTimeout time.Duration
	MaxSamples     int
	Metrics        *metrics.PipelineMetrics
	Logger         *slog.Logger
}

// Runner executes one run at a time: the pacing loop, the submission units and
// the collector, joined by the barrier.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	current *activeRun
	running atomic.Bool
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Blocks == nil {
		cfg.Blocks = StaticBlockHash("")
	}
	return &Runner{cfg: cfg, logger: logger}
}

type activeRun struct {
	id        string
	kind      types.RunKind
	expected  int
	startedAt time.Time

	pacer      *ratelimit.Limiter
	dispatcher *Dispatcher
	sender     *sender.Sender
	handler    *verification.ResponseHandler
	barrier    *Barrier
	latency    *metrics.LatencyRecorder

	status atomic.Value // types.RunStatus
	err    atomic.Value // string
}

func (a *activeRun) setStatus(s types.RunStatus) { a.status.Store(s) }

func (a *activeRun) getStatus() types.RunStatus {
	s, _ := a.status.Load().(types.RunStatus)
	return s
}

// latencyObserver feeds submit round trips into the run's recorder and Prometheus.
type latencyObserver struct {
	recorder  *metrics.LatencyRecorder
	metrics   *metrics.PipelineMetrics
	waitUntil string
}

func (o *latencyObserver) OnSubmitted(latency time.Duration, err error) {
	o.recorder.Observe(latency)
	if o.metrics != nil {
		o.metrics.RecordSubmitLatency(o.waitUntil, err == nil, latency)
	}
}

// Run dispatches every item of w and waits until all outcomes are observed,
// the stream closes early, or the collector aborts.
// The returned error is the collector's when it has one.
func (r *Runner) Run(ctx context.Context, kind types.RunKind, w Workload) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer r.running.Store(false)

	expected := w.Len()
	lat := metrics.NewLatencyRecorder()
	snd := sender.New(sender.Config{
		Client:         r.cfg.Client,
		Concurrency:    r.cfg.Concurrency,
		RequestTimeout: r.cfg.RequestTimeout,
		Observer:       &latencyObserver{recorder: lat, metrics: r.cfg.Metrics, waitUntil: r.cfg.WaitUntil.String()},
		Logger:         r.logger,
	})
	barrier := NewBarrier(expected)
	pacer := ratelimit.New(r.cfg.Interval)

	run := &activeRun{
		id:        uuid.New().String(),
		kind:      kind,
		expected:  expected,
		startedAt: time.Now(),
		sender:    snd,
		barrier:   barrier,
		latency:   lat,
		pacer:     pacer,
		dispatcher: NewDispatcher(DispatcherConfig{
			Pacer:     pacer,
			Sender:    snd,
			Blocks:    r.cfg.Blocks,
			WaitUntil: r.cfg.WaitUntil,
			Kind:      string(kind),
			Metrics:   r.cfg.Metrics,
			Logger:    r.logger,
		}),
		handler: verification.NewResponseHandler(verification.Config{
			Source:     snd.Gate(),
			Expected:   expected,
			Severity:   r.cfg.Severity,
			Kind:       string(kind),
			Observer:   barrier,
			Metrics:    r.cfg.Metrics,
			MaxSamples: r.cfg.MaxSamples,
			Logger:     r.logger,
		}),
	}
	run.setStatus(types.StatusRunning)
	r.mu.Lock()
	r.current = run
	r.mu.Unlock()

	logger := r.logger.With(slog.String("run_id", run.id), slog.String("kind", string(kind)))
	logger.Info("run started",
		slog.Int("expected", expected),
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("concurrency", snd.Capacity()),
		slog.String("wait_until", r.cfg.WaitUntil.String()),
		slog.String("severity", r.cfg.Severity.String()),
	)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RunStarted(string(kind), snd.Capacity())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.cfg.Metrics != nil {
		go r.sampleInFlight(runCtx, snd)
	}

	type collected struct {
		sum verification.Summary
		err error
	}
	done := make(chan collected, 1)
	go func() {
		sum, err := run.handler.HandleAll(runCtx)
		barrier.Finish(sum.Early)
		if err != nil {
			cancel()
		}
		done <- collected{sum: sum, err: err}
	}()

	dispatched, dispatchErr := run.dispatcher.Dispatch(runCtx, w)
	run.setStatus(types.StatusDraining)
	logger.Debug("dispatch finished", slog.Int("dispatched", dispatched), slog.Int("in_flight", snd.InFlight()))

	// Every unit has resolved or given up once Close returns; the gate is then
	// closed, which ends a collector still waiting for skipped items.
	snd.Close()

	res, _ := barrier.Wait(ctx)
	c := <-done

	report := &Report{
		ID:           run.id,
		Kind:         kind,
		StartedAt:    run.startedAt,
		CompletedAt:  time.Now(),
		Expected:     expected,
		Dispatched:   dispatched,
		BuildErrors:  run.dispatcher.BuildErrors(),
		Observed:     c.sum.Observed,
		Succeeded:    c.sum.Succeeded,
		Violations:   c.sum.Violations,
		PeakInFlight: snd.Gate().PeakOutstanding(),
		Elapsed:      res.Elapsed,
		ObservedTPS:  res.Throughput(),
		Latency:      lat.Snapshot(),
		Samples:      c.sum.Samples,
		WaitUntil:    r.cfg.WaitUntil,
		Severity:     r.cfg.Severity,
		Interval:     r.cfg.Interval,
		Concurrency:  snd.Capacity(),
	}

	switch {
	case c.err != nil:
		report.Err = c.err
	case dispatchErr != nil:
		report.Err = fmt.Errorf("dispatch interrupted after %d of %d items: %w", dispatched, expected, dispatchErr)
	}

	switch {
	case report.Err != nil:
		report.Status = types.StatusFailed
		run.err.Store(report.Err.Error())
	case res.Degraded:
		report.Status = types.StatusDegraded
	default:
		report.Status = types.StatusCompleted
	}
	run.setStatus(report.Status)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RunFinished(string(kind), res.Elapsed)
	}

	attrs := []any{
		slog.String("status", string(report.Status)),
		slog.Int("dispatched", report.Dispatched),
		slog.Int("observed", report.Observed),
		slog.Int("violations", report.Violations),
		slog.Duration("elapsed", report.Elapsed),
		slog.Float64("observed_tps", report.ObservedTPS),
	}
	if report.Err != nil {
		logger.Error("run failed", append(attrs, slog.String("error", report.Err.Error()))...)
	} else {
		logger.Info("run finished", attrs...)
	}

	return report, report.Err
}

func (r *Runner) sampleInFlight(ctx context.Context, snd *sender.Sender) {
	ticker := time.NewTicker(inFlightSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cfg.Metrics.SetInFlight(snd.InFlight())
		}
	}
}

// Snapshot returns the live view of the current or most recent run.
func (r *Runner) Snapshot() types.RunMetrics {
	r.mu.RLock()
	run := r.current
	r.mu.RUnlock()

	if run == nil {
		return types.RunMetrics{Status: types.StatusIdle, Capacity: r.cfg.Concurrency}
	}

	started := run.startedAt
	m := types.RunMetrics{
		RunID:      run.id,
		Kind:       run.kind,
		Status:     run.getStatus(),
		WaitUntil:  r.cfg.WaitUntil.String(),
		Severity:   r.cfg.Severity.String(),
		Expected:   run.expected,
		Dispatched: run.dispatcher.Dispatched(),
		Observed:   run.handler.Observed(),
		InFlight:   run.sender.InFlight(),
		Capacity:   run.sender.Capacity(),
		Violations: run.handler.Violations(),
		TargetTPS:  run.pacer.Rate(),
		StartedAt:  &started,
		Latency:    run.latency.Snapshot(),
	}
	elapsed := run.barrier.Elapsed()
	m.ElapsedMs = elapsed.Milliseconds()
	if elapsed > 0 {
		m.ObservedTPS = float64(m.Observed) / elapsed.Seconds()
	}
	if e, ok := run.err.Load().(string); ok {
		m.Error = e
	}
	return m
}

