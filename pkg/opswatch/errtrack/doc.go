// Package errtrack classifies, persists, and counts application
// errors, and raises threshold-exceeded events when a severity's
// occurrence count is reached within a rolling time window.
//
// The tracking path is deliberately non-fatal: persistence failures
// are logged and swallowed so that error tracking can never cascade
// into further failures in the caller. Read paths (Stats, Trends)
// return errors normally.
//
// Occurrence counting is keyed by (type, message). A counter whose
// previous occurrence fell outside the window restarts at one, so a
// threshold can only ever be met by occurrences that are all within
// one window of each other.
package errtrack
