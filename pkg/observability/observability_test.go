package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordMentionCreated("workspace")
	m.RecordMentionCreated("workspace")
	m.RecordMentionCreated("global")
	m.RecordResolutionFailure("not_visible")
	m.RecordProcessed("errored", "entity_not_found")
	m.RecordResponderLatency("ok", 250*time.Millisecond)
	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerStopped()
	m.RecordDrain("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MentionsCreatedTotal.WithLabelValues("workspace")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MentionsCreatedTotal.WithLabelValues("global")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolutionFailuresTotal.WithLabelValues("not_visible")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MentionsProcessedTotal.WithLabelValues("errored", "entity_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchWorkers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchDrains.WithLabelValues("ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "penf_chat_responder_seconds")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMentionCreated("workspace")
		m.RecordResolutionFailure("not_found")
		m.RecordProcessed("responded", "")
		m.RecordResponderLatency("ok", time.Second)
		m.WorkerStarted()
		m.WorkerStopped()
		m.RecordDrain("ok")
	})
}

func TestNewMetricsDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestTracerSpans(t *testing.T) {
	tr := NewTracerWithProvider(noop.NewTracerProvider())
	ctx := context.Background()

	_, span := tr.StartIngestSpan(ctx, "ws-1")
	SetSuccess(span)
	span.End()

	_, span = tr.StartProcessSpan(ctx, "m-1", "e-1")
	SetError(span, errors.New("boom"), "processing_error")
	span.End()

	assert.Empty(t, GetTraceID(ctx))
}

func TestNilTracerReturnsContextSpan(t *testing.T) {
	var tr *Tracer
	ctx := context.Background()

	got, span := tr.StartDrainSpan(ctx, "e-1")
	assert.Equal(t, ctx, got)
	assert.NotNil(t, span)
	span.End()
}
