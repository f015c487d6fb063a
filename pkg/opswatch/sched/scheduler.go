package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/randalmurphal/opswatch/pkg/opswatch/event"
	"github.com/randalmurphal/opswatch/pkg/opswatch/observability"
)

// cronParser accepts standard 5-field expressions (minute, hour,
// day-of-month, month, day-of-week) plus the @-descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseExpr validates a schedule expression and returns its recurrence
// rule. The expression is parsed once here, at registration, never on
// a per-tick basis.
func ParseExpr(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return schedule, nil
}

// NextRun returns the next firing instant for expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := ParseExpr(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

// JobFunc is the body of a scheduled task.
type JobFunc func(ctx context.Context) error

// Task is a read-only snapshot of one registered task.
type Task struct {
	Name         string
	Expr         string
	Enabled      bool
	Running      bool
	LastRun      time.Time
	LastDuration time.Duration
	LastErr      error
}

// task holds the mutable state of one registered task. The mutex
// guards everything below it; it is held only for flag flips and
// snapshot reads, never across the job itself.
type task struct {
	name string
	expr string
	job  JobFunc

	mu           sync.Mutex
	enabled      bool
	running      bool
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
}

// tryStart atomically checks the running flag and claims the task.
// Returns false if the task is disabled or a firing is in flight.
func (t *task) tryStart(now time.Time) (started, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return false, false
	}
	if t.running {
		return false, true
	}
	t.running = true
	t.lastRun = now
	return true, true
}

// claim is tryStart without the enabled check, for manual triggers.
func (t *task) claim(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	t.lastRun = now
	return true
}

func (t *task) finish(duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.lastDuration = duration
	t.lastErr = err
}

func (t *task) snapshot() Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Task{
		Name:         t.name,
		Expr:         t.expr,
		Enabled:      t.enabled,
		Running:      t.running,
		LastRun:      t.lastRun,
		LastDuration: t.lastDuration,
		LastErr:      t.lastErr,
	}
}

// Options configures a Scheduler.
type Options struct {
	// Logger receives firing logs. Nil disables logging.
	Logger *slog.Logger

	// Metrics records firings, latencies, and skips.
	// Nil falls back to NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces task firings. Nil falls back to NoopSpanManager.
	Spans observability.SpanManager

	// Location sets the schedule time zone. Nil means time.Local.
	Location *time.Location

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Scheduler owns the process's recurring jobs. Construct exactly one
// per deployment; it assumes it is the single scheduling authority.
type Scheduler struct {
	cron    *cron.Cron
	bus     *event.Bus
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	now     func() time.Time

	mu    sync.RWMutex
	tasks map[string]*task

	ctxMu   sync.RWMutex
	baseCtx context.Context
}

// New creates a scheduler publishing task failures on bus.
func New(bus *event.Bus, opts Options) *Scheduler {
	location := opts.Location
	if location == nil {
		location = time.Local
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	spans := opts.Spans
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(location),
		),
		bus:     bus,
		logger:  opts.Logger,
		metrics: metrics,
		spans:   spans,
		now:     now,
		tasks:   make(map[string]*task),
	}
}

// Register arms a timer for job under name. The expression is parsed
// once; ErrInvalidSchedule reports a parse failure and
// ErrDuplicateTask a reused name. Registered tasks start enabled.
func (s *Scheduler) Register(name, expr string, job JobFunc) error {
	schedule, err := ParseExpr(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, name)
	}

	t := &task{name: name, expr: expr, job: job, enabled: true}
	s.tasks[name] = t
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(t) }))
	return nil
}

// fire runs one scheduled firing of t, honoring the running flag.
func (s *Scheduler) fire(t *task) {
	started, enabled := t.tryStart(s.now())
	if !started {
		if enabled {
			observability.LogTaskSkipped(s.logger, t.name)
			s.metrics.RecordTaskSkip(s.ctxOrBackground(), t.name)
		}
		return
	}
	s.execute(s.ctxOrBackground(), t)
}

// execute runs the claimed task and releases the running flag when
// done. Callers must have claimed the task via tryStart.
func (s *Scheduler) execute(ctx context.Context, t *task) {
	observability.LogTaskStart(s.logger, t.name)
	ctx, span := s.spans.StartTaskSpan(ctx, t.name)

	start := s.now()
	err := runJob(ctx, t.job)
	duration := s.now().Sub(start)

	t.finish(duration, err)
	s.spans.EndSpanWithError(span, err)
	s.metrics.RecordTaskRun(ctx, t.name, duration, err)

	if err != nil {
		observability.LogTaskError(s.logger, t.name, err, float64(duration.Milliseconds()))
		s.publishTaskError(ctx, t.name, err)
		return
	}
	observability.LogTaskComplete(s.logger, t.name, float64(duration.Milliseconds()))
}

// runJob invokes the handler with panic containment.
func runJob(ctx context.Context, job JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Scheduler) publishTaskError(ctx context.Context, name string, err error) {
	if s.bus == nil {
		return
	}
	evt := event.New(event.TaskError, event.TaskErrorPayload{Task: name, Err: err})
	if pubErr := s.bus.Publish(ctx, evt); pubErr != nil && s.logger != nil {
		s.logger.Warn("task error publish failed",
			slog.String("task", name),
			slog.String("error", pubErr.Error()),
		)
	}
}

// RunNow triggers one immediate execution of name on the caller's
// goroutine. Returns ErrUnknownTask for unregistered names and
// ErrTaskRunning when the previous execution is still in flight.
// A stopped task can still be triggered manually.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}

	if !t.claim(s.now()) {
		return fmt.Errorf("%w: %q", ErrTaskRunning, name)
	}
	s.execute(ctx, t)
	return nil
}

// Stop disables future firings of name. An in-flight execution is
// never interrupted.
func (s *Scheduler) Stop(name string) error {
	return s.setEnabled(name, false)
}

// Start re-enables future firings of name.
func (s *Scheduler) Start(name string) error {
	return s.setEnabled(name, true)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
	return nil
}

// Tasks returns a snapshot of every registered task, sorted by name.
func (s *Scheduler) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run starts the timers. ctx is the base context handed to every
// firing; canceling it signals in-flight jobs but firing continues
// until Shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctxMu.Lock()
	s.baseCtx = ctx
	s.ctxMu.Unlock()
	s.cron.Start()
}

// Shutdown stops future firings and returns a context that is done
// once in-flight cron dispatches have completed.
func (s *Scheduler) Shutdown() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) ctxOrBackground() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}
