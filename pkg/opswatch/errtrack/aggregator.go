package errtrack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/opswatch/pkg/opswatch/event"
	"github.com/randalmurphal/opswatch/pkg/opswatch/observability"
)

// DefaultThresholds are the per-severity occurrence thresholds used
// when Options leaves them unset.
var DefaultThresholds = map[Severity]int{
	SeverityCritical: 1,
	SeverityHigh:     5,
	SeverityMedium:   10,
	SeverityLow:      20,
}

const (
	// DefaultWindow is the rolling span over which same-key
	// occurrences count toward a threshold.
	DefaultWindow = time.Hour

	// DefaultRetention is the age beyond which persisted records are
	// eligible for cleanup.
	DefaultRetention = 7 * 24 * time.Hour
)

// Options configures an Aggregator. Zero fields fall back to defaults.
type Options struct {
	// Thresholds overrides DefaultThresholds per severity.
	Thresholds map[Severity]int

	// Window overrides DefaultWindow.
	Window time.Duration

	// Retention overrides DefaultRetention.
	Retention time.Duration

	// Logger receives non-fatal tracking failures. Nil disables logging.
	Logger *slog.Logger

	// Metrics records tracked errors and threshold trips.
	// Nil falls back to NoopMetrics.
	Metrics observability.MetricsRecorder

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Aggregator classifies, persists, and counts errors.
type Aggregator struct {
	repo       Repository
	bus        *event.Bus
	thresholds map[Severity]int
	window     time.Duration
	retention  time.Duration
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	now        func() time.Time
	counters   *counterTable
}

// New creates an aggregator publishing on bus and persisting to repo.
func New(repo Repository, bus *event.Bus, opts Options) *Aggregator {
	thresholds := make(map[Severity]int, len(DefaultThresholds))
	for sev, n := range DefaultThresholds {
		thresholds[sev] = n
	}
	for sev, n := range opts.Thresholds {
		if n > 0 {
			thresholds[sev] = n
		}
	}

	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Aggregator{
		repo:       repo,
		bus:        bus,
		thresholds: thresholds,
		window:     window,
		retention:  retention,
		logger:     opts.Logger,
		metrics:    metrics,
		now:        now,
		counters:   newCounterTable(window),
	}
}

// TrackOption customizes a single Track call.
type TrackOption func(*Record)

// WithType overrides the derived type classifier.
func WithType(typ string) TrackOption {
	return func(rec *Record) { rec.Type = typ }
}

// WithContext attaches a free-form context map to the record.
func WithContext(ctx map[string]any) TrackOption {
	return func(rec *Record) { rec.Context = ctx }
}

// WithMetadata attaches a free-form metadata map to the record.
func WithMetadata(md map[string]any) TrackOption {
	return func(rec *Record) { rec.Metadata = md }
}

// Track classifies err, persists a record of it, updates the windowed
// occurrence counter for its (type, message) key, and publishes
// error.tracked. When the in-window count reaches the severity's
// threshold it also publishes error.threshold_exceeded.
//
// Track never fails: persistence errors are logged and swallowed so
// error tracking cannot crash the caller. The built record is returned
// either way.
func (a *Aggregator) Track(ctx context.Context, err error, opts ...TrackOption) *Record {
	if err == nil {
		return nil
	}

	rec := &Record{
		ID:       uuid.New().String(),
		Type:     fmt.Sprintf("%T", err),
		Message:  err.Error(),
		Severity: Classify(err),
		Time:     a.now(),
	}
	for _, opt := range opts {
		opt(rec)
	}

	if insertErr := a.repo.Insert(ctx, rec); insertErr != nil {
		observability.LogTrackFailure(a.logger, rec.Type, insertErr)
	}
	a.metrics.RecordErrorTracked(ctx, rec.Severity.String())

	count, firstSeen, lastSeen := a.counters.observe(counterKey{typ: rec.Type, msg: rec.Message}, rec.Time)

	a.publish(ctx, event.New(event.ErrorTracked, TrackedPayload{Record: rec}))

	if threshold, ok := a.thresholds[rec.Severity]; ok && count >= threshold {
		a.metrics.RecordThresholdTrip(ctx, rec.Severity.String())
		a.publish(ctx, event.New(event.ThresholdExceeded, ThresholdPayload{
			Record:      rec,
			Occurrences: count,
			FirstSeen:   firstSeen,
			LastSeen:    lastSeen,
		}))
	}

	return rec
}

func (a *Aggregator) publish(ctx context.Context, evt event.Event) {
	if a.bus == nil {
		return
	}
	if err := a.bus.Publish(ctx, evt); err != nil && a.logger != nil {
		a.logger.Warn("event publish failed",
			slog.String("event", string(evt.Name)),
			slog.String("error", err.Error()),
		)
	}
}

// Cleanup deletes persisted records older than the retention period,
// evicts matching in-memory counters, and returns the count removed.
func (a *Aggregator) Cleanup(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.retention)

	removed, err := a.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete error records: %w", err)
	}

	a.counters.evictBefore(cutoff)
	a.metrics.RecordCleanup(ctx, int64(removed))
	observability.LogCleanup(a.logger, removed, cutoff)
	return removed, nil
}

// CounterSize returns the number of live in-memory counters.
// Exposed for ops surfaces.
func (a *Aggregator) CounterSize() int {
	return a.counters.size()
}
