package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records monitoring-core metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTaskRun records a scheduled task firing with its duration
	// and error status.
	RecordTaskRun(ctx context.Context, task string, duration time.Duration, err error)

	// RecordTaskSkip records a firing skipped due to an in-flight run.
	RecordTaskSkip(ctx context.Context, task string)

	// RecordErrorTracked records an error accepted by the aggregator.
	RecordErrorTracked(ctx context.Context, severity string)

	// RecordThresholdTrip records a threshold-exceeded publication.
	RecordThresholdTrip(ctx context.Context, severity string)

	// RecordDelivery records one recipient's delivery attempt.
	RecordDelivery(ctx context.Context, success bool)

	// RecordCleanup records a retention cleanup pass.
	RecordCleanup(ctx context.Context, removed int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	taskRuns       metric.Int64Counter
	taskLatency    metric.Float64Histogram
	taskErrors     metric.Int64Counter
	taskSkips      metric.Int64Counter
	errorsTracked  metric.Int64Counter
	thresholdTrips metric.Int64Counter
	deliveries     metric.Int64Counter
	cleanupRemoved metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("opswatch")

	taskRuns, err := meter.Int64Counter("opswatch.task.runs",
		metric.WithDescription("Number of scheduled task firings"),
	)
	if err != nil {
		return nil, err
	}

	taskLatency, err := meter.Float64Histogram("opswatch.task.latency_ms",
		metric.WithDescription("Task execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	taskErrors, err := meter.Int64Counter("opswatch.task.errors",
		metric.WithDescription("Number of failed task firings"),
	)
	if err != nil {
		return nil, err
	}

	taskSkips, err := meter.Int64Counter("opswatch.task.skips",
		metric.WithDescription("Number of firings skipped due to an in-flight run"),
	)
	if err != nil {
		return nil, err
	}

	errorsTracked, err := meter.Int64Counter("opswatch.errors.tracked",
		metric.WithDescription("Number of errors accepted by the aggregator"),
	)
	if err != nil {
		return nil, err
	}

	thresholdTrips, err := meter.Int64Counter("opswatch.errors.threshold_trips",
		metric.WithDescription("Number of threshold-exceeded publications"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("opswatch.notify.deliveries",
		metric.WithDescription("Number of per-recipient delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	cleanupRemoved, err := meter.Int64Counter("opswatch.cleanup.removed",
		metric.WithDescription("Number of records removed by retention cleanup"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		taskRuns:       taskRuns,
		taskLatency:    taskLatency,
		taskErrors:     taskErrors,
		taskSkips:      taskSkips,
		errorsTracked:  errorsTracked,
		thresholdTrips: thresholdTrips,
		deliveries:     deliveries,
		cleanupRemoved: cleanupRemoved,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordTaskRun records a scheduled task firing.
func (m *otelMetrics) RecordTaskRun(ctx context.Context, task string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("task", task),
	}

	m.taskRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.taskLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.taskErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordTaskSkip records a skipped firing.
func (m *otelMetrics) RecordTaskSkip(ctx context.Context, task string) {
	m.taskSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

// RecordErrorTracked records a tracked error.
func (m *otelMetrics) RecordErrorTracked(ctx context.Context, severity string) {
	m.errorsTracked.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

// RecordThresholdTrip records a threshold-exceeded publication.
func (m *otelMetrics) RecordThresholdTrip(ctx context.Context, severity string) {
	m.thresholdTrips.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

// RecordDelivery records one recipient's delivery attempt.
func (m *otelMetrics) RecordDelivery(ctx context.Context, success bool) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordCleanup records a retention cleanup pass.
func (m *otelMetrics) RecordCleanup(ctx context.Context, removed int64) {
	m.cleanupRemoved.Add(ctx, removed)
}
