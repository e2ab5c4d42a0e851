package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the instrumentation name for mention spans.
	TracerName = "penf-chat/mentions"
)

// Span attribute keys
const (
	AttrWorkspaceID = "workspace_id"
	AttrMessageID   = "message_id"
	AttrMentionID   = "mention_id"
	AttrEntityID    = "entity_id"
	AttrCandidates  = "candidates"
	AttrResolved    = "resolved"
	AttrErrorCode   = "error_code"
)

// Span names
const (
	SpanIngest  = "mentions.ingest"
	SpanResolve = "mentions.resolve"
	SpanProcess = "mentions.process"
	SpanRespond = "mentions.respond"
	SpanDrain   = "mentions.drain"
)

// Tracer wraps the otel tracer used by the mention pipeline.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer backed by the global otel provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// NewTracerWithProvider returns a Tracer backed by tp.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(TracerName),
	}
}

// StartIngestSpan starts a span around extract/resolve/canonicalize for one message body.
// A nil Tracer yields a no-op span.
func (t *Tracer) StartIngestSpan(ctx context.Context, workspaceID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, SpanIngest,
		trace.WithAttributes(
			attribute.String(AttrWorkspaceID, workspaceID),
		),
	)
}

// StartResolveSpan starts a span for resolving a message's candidates.
func (t *Tracer) StartResolveSpan(ctx context.Context, workspaceID string, candidates int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, SpanResolve,
		trace.WithAttributes(
			attribute.String(AttrWorkspaceID, workspaceID),
			attribute.Int(AttrCandidates, candidates),
		),
	)
}

// StartProcessSpan starts a span for processing a single mention.
func (t *Tracer) StartProcessSpan(ctx context.Context, mentionID, entityID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, SpanProcess,
		trace.WithAttributes(
			attribute.String(AttrMentionID, mentionID),
			attribute.String(AttrEntityID, entityID),
		),
	)
}

// StartRespondSpan starts a span around the responder call.
func (t *Tracer) StartRespondSpan(ctx context.Context, entityID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, SpanRespond,
		trace.WithAttributes(
			attribute.String(AttrEntityID, entityID),
		),
	)
}

// StartDrainSpan starts a span for draining one entity's pending mentions.
func (t *Tracer) StartDrainSpan(ctx context.Context, entityID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, SpanDrain,
		trace.WithAttributes(
			attribute.String(AttrEntityID, entityID),
		),
	)
}

// SetError records err on span with its pipeline error code.
func SetError(span trace.Span, err error, code string) {
	span.SetStatus(codes.Error, err.Error())
	if code != "" {
		span.SetAttributes(attribute.String(AttrErrorCode, code))
	}
	span.RecordError(err)
}

// SetSuccess marks span as successful.
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
