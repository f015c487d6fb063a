package sched

import "errors"

var (
	// ErrInvalidSchedule is returned by Register when the schedule
	// expression does not parse.
	ErrInvalidSchedule = errors.New("sched: invalid schedule expression")

	// ErrDuplicateTask is returned by Register when the task name is
	// already registered.
	ErrDuplicateTask = errors.New("sched: task already registered")

	// ErrUnknownTask is returned when a task name is not registered.
	ErrUnknownTask = errors.New("sched: unknown task")

	// ErrTaskRunning is returned by RunNow when the task's previous
	// execution is still in flight.
	ErrTaskRunning = errors.New("sched: task is already running")
)
