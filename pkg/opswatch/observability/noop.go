package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordTaskRun does nothing.
func (NoopMetrics) RecordTaskRun(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordTaskSkip does nothing.
func (NoopMetrics) RecordTaskSkip(_ context.Context, _ string) {}

// RecordErrorTracked does nothing.
func (NoopMetrics) RecordErrorTracked(_ context.Context, _ string) {}

// RecordThresholdTrip does nothing.
func (NoopMetrics) RecordThresholdTrip(_ context.Context, _ string) {}

// RecordDelivery does nothing.
func (NoopMetrics) RecordDelivery(_ context.Context, _ bool) {}

// RecordCleanup does nothing.
func (NoopMetrics) RecordCleanup(_ context.Context, _ int64) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
// We use the OTel noop package for a proper no-op span implementation.
var noopSpan = noop.Span{}

// StartTaskSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartTaskSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartDeliverySpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartDeliverySpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
