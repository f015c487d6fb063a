package errtrack

import (
	"context"
	"time"
)

// Record is a persisted error occurrence. Records are immutable after
// creation and deleted only by retention cleanup.
type Record struct {
	ID       string
	Type     string
	Message  string
	Severity Severity
	Time     time.Time
	Context  map[string]any
	Metadata map[string]any
}

// Filter narrows List queries. Zero fields match everything.
type Filter struct {
	From     time.Time
	To       time.Time
	Severity Severity
	Type     string
}

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec *Record) bool {
	if !f.From.IsZero() && rec.Time.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.Time.Before(f.To) {
		return false
	}
	if f.Severity != "" && rec.Severity != f.Severity {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	return true
}

// Repository is the persistence collaborator for error records.
type Repository interface {
	// Insert stores a new record.
	Insert(ctx context.Context, rec *Record) error

	// List returns records matching the filter, ordered by time
	// ascending.
	List(ctx context.Context, f Filter) ([]*Record, error)

	// DeleteBefore removes records with a timestamp strictly older
	// than cutoff and returns the count removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TrackedPayload accompanies the error.tracked event.
type TrackedPayload struct {
	Record *Record
}

// ThresholdPayload accompanies the error.threshold_exceeded event.
type ThresholdPayload struct {
	Record      *Record
	Occurrences int
	FirstSeen   time.Time
	LastSeen    time.Time
}
