package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for mention ingestion and processing.
//
// All Record* methods are safe to call on a nil *Metrics, which lets tests and
// one-shot CLI commands run without a registry.
type Metrics struct {
	// Ingestion
	MentionsCreatedTotal    *prometheus.CounterVec
	ResolutionFailuresTotal *prometheus.CounterVec

	// Processing
	MentionsProcessedTotal *prometheus.CounterVec
	ResponderSeconds       *prometheus.HistogramVec

	// Dispatch
	DispatchWorkers prometheus.Gauge
	DispatchDrains  *prometheus.CounterVec
}

// DefaultMetrics registers metrics with the default Prometheus registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates and registers the metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MentionsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penf_chat_mentions_created_total",
				Help: "Mention records created, by resolution scope",
			},
			[]string{"scope"},
		),
		ResolutionFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penf_chat_resolution_failures_total",
				Help: "Mention candidates dropped during resolution, by reason",
			},
			[]string{"reason"},
		),
		MentionsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penf_chat_mentions_processed_total",
				Help: "Mentions moved to a terminal state, by outcome and error code",
			},
			[]string{"outcome", "code"},
		),
		ResponderSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "penf_chat_responder_seconds",
				Help:    "Latency of responder invocations",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		DispatchWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "penf_chat_dispatch_workers",
				Help: "Live per-entity dispatch workers",
			},
		),
		DispatchDrains: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penf_chat_dispatch_drains_total",
				Help: "Pending-mention drains run by dispatch workers",
			},
			[]string{"status"},
		),
	}
}

// RecordMentionCreated counts a persisted mention.
func (m *Metrics) RecordMentionCreated(scope string) {
	if m == nil {
		return
	}
	m.MentionsCreatedTotal.WithLabelValues(scope).Inc()
}

// RecordResolutionFailure counts a dropped candidate.
func (m *Metrics) RecordResolutionFailure(reason string) {
	if m == nil {
		return
	}
	m.ResolutionFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordProcessed counts a terminal transition. code is empty for responded mentions.
func (m *Metrics) RecordProcessed(outcome, code string) {
	if m == nil {
		return
	}
	m.MentionsProcessedTotal.WithLabelValues(outcome, code).Inc()
}

// RecordResponderLatency observes one responder call.
func (m *Metrics) RecordResponderLatency(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ResponderSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// WorkerStarted increments the live worker gauge.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.DispatchWorkers.Inc()
}

// WorkerStopped decrements the live worker gauge.
func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.DispatchWorkers.Dec()
}

// RecordDrain counts one drain pass.
func (m *Metrics) RecordDrain(status string) {
	if m == nil {
		return
	}
	m.DispatchDrains.WithLabelValues(status).Inc()
}
