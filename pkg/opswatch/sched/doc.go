// Package sched runs named recurring jobs against cron schedule
// expressions.
//
// Each task fires on its own goroutine; different tasks run fully
// concurrently while firings of the same task are serialized by a
// running flag. A firing that arrives while the previous one is still
// in flight is skipped and logged, never queued.
//
// Job failures are contained at the firing boundary: the error is
// recorded on the task, logged, and published as a system.task_error
// event. Nothing a job does can take the scheduler down, including
// panicking.
package sched
