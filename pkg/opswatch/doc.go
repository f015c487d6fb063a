// Package opswatch wires the monitoring core together: an in-process
// event bus, an error aggregator with severity thresholds, a cron
// scheduler for maintenance jobs, and a notification dispatcher with
// per-recipient read state.
//
// The subpackages are usable on their own; this package composes them
// into a single Core with the standard event subscriptions and default
// jobs:
//
//	core, err := opswatch.New(config.Default(), opswatch.Deps{
//		ErrorRepo: sqliteStore.ErrorRecords(),
//		NotifRepo: sqliteStore.Notifications(),
//	})
//	if err != nil { ... }
//	core.Run(ctx)
//	defer core.Shutdown()
//
// See the examples directory for a complete program.
package opswatch
