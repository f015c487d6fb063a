package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the opswatch tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("opswatch")

// SpanManager handles trace span lifecycle around the core's I/O
// boundaries (task firings, persistence calls, deliveries).
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartTaskSpan starts a span for one scheduled task firing.
	StartTaskSpan(ctx context.Context, task string) (context.Context, trace.Span)

	// StartDeliverySpan starts a span for one recipient's delivery.
	// The delivery span should be a child of the creating operation.
	StartDeliverySpan(ctx context.Context, recipientID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartTaskSpan starts a span for one scheduled task firing.
func (m *otelSpanManager) StartTaskSpan(ctx context.Context, task string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "opswatch.task."+task,
		trace.WithAttributes(
			attribute.String("task", task),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartDeliverySpan starts a span for one recipient's delivery.
func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, recipientID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "opswatch.delivery",
		trace.WithAttributes(
			attribute.String("recipient_id", recipientID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
