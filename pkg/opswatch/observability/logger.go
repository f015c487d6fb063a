// Package observability provides structured logging, metrics, and
// tracing for the monitoring core.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds task context to a logger.
// Returns a new logger with task and schedule fields.
func EnrichLogger(logger *slog.Logger, task, schedule string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("task", task),
		slog.String("schedule", schedule),
	)
}

// LogTaskStart logs the start of a scheduled task firing.
func LogTaskStart(logger *slog.Logger, task string) {
	if logger == nil {
		return
	}
	logger.Debug("task starting",
		slog.String("task", task),
	)
}

// LogTaskComplete logs successful task completion.
func LogTaskComplete(logger *slog.Logger, task string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("task completed",
		slog.String("task", task),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogTaskError logs a task handler failure.
func LogTaskError(logger *slog.Logger, task string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("task failed",
		slog.String("task", task),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogTaskSkipped logs a firing skipped because the previous run is
// still in flight.
func LogTaskSkipped(logger *slog.Logger, task string) {
	if logger == nil {
		return
	}
	logger.Warn("task still running, firing skipped",
		slog.String("task", task),
	)
}

// LogTrackFailure logs a persistence failure on the error-tracking
// path (non-fatal).
func LogTrackFailure(logger *slog.Logger, errType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("error record persistence failed",
		slog.String("error_type", errType),
		slog.String("error", err.Error()),
	)
}

// LogDeliveryError logs a single recipient's failed delivery (non-fatal).
func LogDeliveryError(logger *slog.Logger, notificationID, recipientID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("notification delivery failed",
		slog.String("notification_id", notificationID),
		slog.String("recipient_id", recipientID),
		slog.String("error", err.Error()),
	)
}

// LogCleanup logs a retention cleanup pass.
func LogCleanup(logger *slog.Logger, removed int, cutoff time.Time) {
	if logger == nil {
		return
	}
	logger.Info("retention cleanup completed",
		slog.Int("removed", removed),
		slog.Time("cutoff", cutoff),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
