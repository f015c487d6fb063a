// Package store provides the persistence implementations consumed by
// the monitoring core: an in-memory store for tests and ephemeral
// runs, and a SQLite store for single-process production use.
//
// The repository interfaces themselves are declared by their consumer
// packages (errtrack.Repository, notify.Repository); this package only
// implements them.
package store

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned when operations are attempted on a
// closed store.
var ErrStoreClosed = errors.New("store: store is closed")

// Pinger reports storage reachability. The health probe uses it.
type Pinger interface {
	Ping(ctx context.Context) error
}
