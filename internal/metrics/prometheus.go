package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome classes recorded by RecordOutcome.
const (
	ClassSuccess   = "success"
	ClassViolation = "violation"
	ClassTransport = "transport_error"
)

// PipelineMetrics holds the Prometheus metrics of the dispatch pipeline.
type PipelineMetrics struct {
	DispatchedTotal *prometheus.CounterVec
	BuildErrors     *prometheus.CounterVec
	OutcomesTotal   *prometheus.CounterVec
	ViolationsTotal *prometheus.CounterVec

	InFlight     prometheus.Gauge
	GateCapacity prometheus.Gauge
	RunActive    *prometheus.GaugeVec

	SubmitLatency *prometheus.HistogramVec
	RunDuration   *prometheus.HistogramVec
}

// NewPipelineMetrics creates and registers the pipeline metrics on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PipelineMetrics{
		DispatchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txbench_dispatched_total",
				Help: "Work items signed and handed to a submission unit, by run kind",
			},
			[]string{"kind"},
		),

		BuildErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txbench_build_errors_total",
				Help: "Work items skipped because building or signing failed",
			},
			[]string{"kind"},
		),

		OutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txbench_outcomes_total",
				Help: "Outcomes received by the response collector, by class",
			},
			[]string{"kind", "class"},
		),

		ViolationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txbench_violations_total",
				Help: "Response check violations, by violation kind",
			},
			[]string{"violation"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "txbench_in_flight",
				Help: "Submissions admitted by the gate and not yet received by the collector",
			},
		),

		GateCapacity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "txbench_gate_capacity",
				Help: "Admission gate capacity of the current run",
			},
		),

		RunActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txbench_run_active",
				Help: "1 while a run of the given kind is active",
			},
			[]string{"kind"},
		),

		SubmitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txbench_submit_latency_seconds",
				Help:    "send_tx round trip latency by requested completion level",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"wait_until", "success"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txbench_run_duration_seconds",
				Help:    "Elapsed time from first to last observed outcome",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"kind"},
		),
	}
}

// RecordDispatched counts a dispatched item.
func (m *PipelineMetrics) RecordDispatched(kind string) {
	m.DispatchedTotal.WithLabelValues(kind).Inc()
}

// RecordBuildError counts an item that could not be built.
func (m *PipelineMetrics) RecordBuildError(kind string) {
	m.BuildErrors.WithLabelValues(kind).Inc()
}

// RecordOutcome counts a received outcome.
func (m *PipelineMetrics) RecordOutcome(kind, class string) {
	m.OutcomesTotal.WithLabelValues(kind, class).Inc()
}

// RecordViolation counts one violation.
func (m *PipelineMetrics) RecordViolation(violation string) {
	m.ViolationsTotal.WithLabelValues(violation).Inc()
}

// RecordSubmitLatency records a send_tx round trip.
func (m *PipelineMetrics) RecordSubmitLatency(waitUntil string, success bool, latency time.Duration) {
	s := "true"
	if !success {
		s = "false"
	}
	m.SubmitLatency.WithLabelValues(waitUntil, s).Observe(latency.Seconds())
}

// SetInFlight sets the number of admitted, unreceived submissions.
func (m *PipelineMetrics) SetInFlight(n int) {
	m.InFlight.Set(float64(n))
}

// RunStarted marks a run as active.
func (m *PipelineMetrics) RunStarted(kind string, capacity int) {
	m.GateCapacity.Set(float64(capacity))
	m.RunActive.WithLabelValues(kind).Set(1)
}

// RunFinished marks a run as finished and records its duration.
func (m *PipelineMetrics) RunFinished(kind string, elapsed time.Duration) {
	m.RunActive.WithLabelValues(kind).Set(0)
	m.InFlight.Set(0)
	m.RunDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
