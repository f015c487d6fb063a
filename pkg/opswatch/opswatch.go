package opswatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/randalmurphal/opswatch/pkg/opswatch/config"
	"github.com/randalmurphal/opswatch/pkg/opswatch/errtrack"
	"github.com/randalmurphal/opswatch/pkg/opswatch/event"
	"github.com/randalmurphal/opswatch/pkg/opswatch/notify"
	"github.com/randalmurphal/opswatch/pkg/opswatch/observability"
	"github.com/randalmurphal/opswatch/pkg/opswatch/sched"
	"github.com/randalmurphal/opswatch/pkg/opswatch/store"
)

// Default job names registered by New unless scheduling is disabled.
const (
	JobCleanup        = "cleanup"
	JobInventorySweep = "inventory-sweep"
	JobHealthProbe    = "health-probe"
)

// expiryHorizon is how far ahead the inventory sweep looks for
// products nearing expiry.
const expiryHorizon = 30 * 24 * time.Hour

// InventorySource supplies the inventory views the sweep job scans.
// Implementations query the backing inventory database.
type InventorySource interface {
	// ListLowStock returns products at or below their reorder point.
	ListLowStock(ctx context.Context) ([]notify.Product, error)

	// ListExpiring returns products expiring within the horizon.
	ListExpiring(ctx context.Context, within time.Duration) ([]notify.Product, error)
}

// Deps are the external collaborators injected into the core. ErrorRepo
// and NotifRepo are required; everything else is optional and disables
// the feature it serves when nil.
type Deps struct {
	ErrorRepo errtrack.Repository
	NotifRepo notify.Repository

	// Renderer, Transport, and Directory enable email fan-out and
	// audience resolution for notifications.
	Renderer  notify.Renderer
	Transport notify.Transport
	Directory notify.Directory

	// Inventory enables the inventory sweep job.
	Inventory InventorySource

	// Pinger enables the storage check in the health probe.
	Pinger store.Pinger

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// Metrics records counters and latencies. Nil falls back to
	// NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces task and delivery spans. Nil falls back to
	// NoopSpanManager.
	Spans observability.SpanManager

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Core composes the bus, aggregator, dispatcher, and scheduler with
// the standard subscriptions and default jobs.
type Core struct {
	cfg       config.Config
	bus       *event.Bus
	errors    *errtrack.Aggregator
	notifier  *notify.Dispatcher
	scheduler *sched.Scheduler
	directory notify.Directory
	inventory InventorySource
	pinger    store.Pinger
	logger    *slog.Logger
}

// New builds and wires a core. The configuration is validated first;
// the default jobs are registered unless cfg.Scheduler.Disabled is
// set. The scheduler does not fire until Run is called.
func New(cfg config.Config, deps Deps) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.ErrorRepo == nil {
		return nil, errors.New("opswatch: ErrorRepo is required")
	}
	if deps.NotifRepo == nil {
		return nil, errors.New("opswatch: NotifRepo is required")
	}

	bus := event.NewBus(event.BusConfig{Logger: deps.Logger})

	aggregator := errtrack.New(deps.ErrorRepo, bus, errtrack.Options{
		Thresholds: map[errtrack.Severity]int{
			errtrack.SeverityCritical: cfg.Thresholds.Critical,
			errtrack.SeverityHigh:     cfg.Thresholds.High,
			errtrack.SeverityMedium:   cfg.Thresholds.Medium,
			errtrack.SeverityLow:      cfg.Thresholds.Low,
		},
		Window:    cfg.Window.Std(),
		Retention: cfg.Retention(),
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
		Clock:     deps.Clock,
	})

	dispatcher := notify.New(deps.NotifRepo, notify.Options{
		Renderer:  deps.Renderer,
		Transport: deps.Transport,
		Directory: deps.Directory,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
		Spans:     deps.Spans,
		Clock:     deps.Clock,
	})

	scheduler := sched.New(bus, sched.Options{
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
		Spans:   deps.Spans,
		Clock:   deps.Clock,
	})

	c := &Core{
		cfg:       cfg,
		bus:       bus,
		errors:    aggregator,
		notifier:  dispatcher,
		scheduler: scheduler,
		directory: deps.Directory,
		inventory: deps.Inventory,
		pinger:    deps.Pinger,
		logger:    deps.Logger,
	}

	if err := c.subscribe(); err != nil {
		return nil, err
	}
	if !cfg.Scheduler.Disabled {
		if err := c.registerJobs(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Bus returns the event bus for additional subscriptions.
func (c *Core) Bus() *event.Bus { return c.bus }

// Errors returns the error aggregator.
func (c *Core) Errors() *errtrack.Aggregator { return c.errors }

// Notifications returns the notification dispatcher.
func (c *Core) Notifications() *notify.Dispatcher { return c.notifier }

// Scheduler returns the task scheduler.
func (c *Core) Scheduler() *sched.Scheduler { return c.scheduler }

// Run starts the scheduler. ctx becomes the base context of scheduled
// job executions.
func (c *Core) Run(ctx context.Context) {
	c.scheduler.Run(ctx)
}

// Shutdown stops the scheduler, waits for a running job to finish, and
// closes the bus.
func (c *Core) Shutdown() {
	<-c.scheduler.Shutdown().Done()
	c.bus.Close()
}

// subscribe installs the standard event subscriptions: scheduler task
// failures feed the aggregator, threshold and health events become
// system notifications, and inventory events become stock alerts.
func (c *Core) subscribe() error {
	subs := []struct {
		name    event.Name
		handler event.HandlerFunc
	}{
		{event.TaskError, c.onTaskError},
		{event.ThresholdExceeded, c.onThresholdExceeded},
		{event.HighMemoryUsage, c.onHighMemory},
		{event.HealthCheckFailed, c.onHealthCheckFailed},
		{event.InventoryLow, c.onInventoryLow},
		{event.InventoryExpiring, c.onInventoryExpiring},
	}
	for _, s := range subs {
		if _, err := c.bus.Subscribe(s.name, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.name, err)
		}
	}
	return nil
}

func (c *Core) onTaskError(ctx context.Context, evt event.Event) error {
	p, ok := evt.Payload.(event.TaskErrorPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Name)
	}
	c.errors.Track(ctx, p.Err,
		errtrack.WithType("task"),
		errtrack.WithContext(map[string]any{"task": p.Task}),
	)
	return nil
}

func (c *Core) onThresholdExceeded(ctx context.Context, evt event.Event) error {
	p, ok := evt.Payload.(errtrack.ThresholdPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Name)
	}
	msg := fmt.Sprintf("%s error threshold exceeded: %d occurrences of %q since %s",
		p.Record.Severity, p.Occurrences, p.Record.Message,
		p.FirstSeen.Format(time.RFC3339))
	return c.systemNotice(ctx, msg)
}

func (c *Core) onHighMemory(ctx context.Context, evt event.Event) error {
	p, ok := evt.Payload.(event.MemoryPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Name)
	}
	return c.systemNotice(ctx, fmt.Sprintf(
		"memory usage at %.0f%% of limit %.0f%%", p.Usage*100, p.Limit*100))
}

func (c *Core) onHealthCheckFailed(ctx context.Context, evt event.Event) error {
	p, ok := evt.Payload.(event.HealthCheckPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Name)
	}
	c.errors.Track(ctx, p.Err, errtrack.WithType("health"))
	return c.systemNotice(ctx, fmt.Sprintf("health check failed: %v", p.Err))
}

func (c *Core) onInventoryLow(ctx context.Context, evt event.Event) error {
	p, ok := evt.Payload.(event.LowStockPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Name)
	}
	_, _, err := c.notifier.LowStockAlert(ctx, notify.Product{
		ID:           p.ProductID,
		Name:         p.ProductID,
		Quantity:     p.Quantity,
		ReorderPoint: p.ReorderPoint,
	})
	if errors.Is(err, notify.ErrValidation) {
		// No audience subscribed.
		return nil
	}
	return err
}

func (c *Core) onInventoryExpiring(ctx context.Context, evt event.Event) error {
	p, ok := evt.Payload.(event.ExpiringPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Name)
	}
	recipients, err := c.audience(ctx, notify.TypeQualityAlert)
	if err != nil || len(recipients) == 0 {
		return err
	}
	_, _, err = c.notifier.Create(ctx, notify.CreateInput{
		Type: notify.TypeQualityAlert,
		Message: fmt.Sprintf("%s expires on %s",
			p.ProductID, p.ExpiryDate.Format("2006-01-02")),
		RecipientIDs: recipients,
		SendEmail:    true,
		Data:         map[string]any{"product_id": p.ProductID},
	})
	return err
}

// systemNotice sends a SYSTEM notification to the subscribed audience.
// With no directory or an empty audience it is a no-op.
func (c *Core) systemNotice(ctx context.Context, message string) error {
	recipients, err := c.audience(ctx, notify.TypeSystem)
	if err != nil || len(recipients) == 0 {
		return err
	}
	if len(message) > notify.MaxMessageLen {
		message = message[:notify.MaxMessageLen]
	}
	_, _, err = c.notifier.Create(ctx, notify.CreateInput{
		Type:         notify.TypeSystem,
		Message:      message,
		RecipientIDs: recipients,
		SendEmail:    true,
	})
	return err
}

func (c *Core) audience(ctx context.Context, t notify.Type) ([]string, error) {
	if c.directory == nil {
		return nil, nil
	}
	recipients, err := c.directory.Recipients(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("resolve audience for %s: %w", t, err)
	}
	return recipients, nil
}

// registerJobs arms the default maintenance jobs.
func (c *Core) registerJobs() error {
	jobs := []struct {
		name string
		expr string
		fn   sched.JobFunc
	}{
		{JobCleanup, c.cfg.Scheduler.CleanupExpr, c.runCleanup},
		{JobHealthProbe, c.cfg.Scheduler.HealthExpr, c.runHealthProbe},
	}
	if c.inventory != nil {
		jobs = append(jobs, struct {
			name string
			expr string
			fn   sched.JobFunc
		}{JobInventorySweep, c.cfg.Scheduler.SweepExpr, c.runInventorySweep})
	}
	for _, j := range jobs {
		if err := c.scheduler.Register(j.name, j.expr, j.fn); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return nil
}

// runCleanup removes expired error records and fully-read
// notifications past retention.
func (c *Core) runCleanup(ctx context.Context) error {
	_, errsErr := c.errors.Cleanup(ctx)
	_, notifErr := c.notifier.CleanupRead(ctx, c.cfg.ReadRetention())
	return errors.Join(errsErr, notifErr)
}

// runInventorySweep scans for low-stock and expiring products and
// publishes one event per finding.
func (c *Core) runInventorySweep(ctx context.Context) error {
	low, err := c.inventory.ListLowStock(ctx)
	if err != nil {
		return fmt.Errorf("list low stock: %w", err)
	}
	for _, p := range low {
		evt := event.New(event.InventoryLow, event.LowStockPayload{
			ProductID:    p.ID,
			Quantity:     p.Quantity,
			ReorderPoint: p.ReorderPoint,
		})
		if err := c.bus.Publish(ctx, evt); err != nil {
			return err
		}
	}

	expiring, err := c.inventory.ListExpiring(ctx, expiryHorizon)
	if err != nil {
		return fmt.Errorf("list expiring: %w", err)
	}
	for _, p := range expiring {
		if p.ExpiryDate == nil {
			continue
		}
		evt := event.New(event.InventoryExpiring, event.ExpiringPayload{
			ProductID:  p.ID,
			ExpiryDate: *p.ExpiryDate,
		})
		if err := c.bus.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// runHealthProbe checks heap pressure and storage reachability,
// publishing an event per finding.
func (c *Core) runHealthProbe(ctx context.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys > 0 {
		usage := float64(m.HeapInuse) / float64(m.Sys)
		if usage > c.cfg.MemoryLimitRatio {
			evt := event.New(event.HighMemoryUsage, event.MemoryPayload{
				Usage: usage,
				Limit: c.cfg.MemoryLimitRatio,
			})
			if err := c.bus.Publish(ctx, evt); err != nil {
				return err
			}
		}
	}

	if c.pinger != nil {
		if err := c.pinger.Ping(ctx); err != nil {
			evt := event.New(event.HealthCheckFailed, event.HealthCheckPayload{Err: err})
			if err := c.bus.Publish(ctx, evt); err != nil {
				return err
			}
		}
	}
	return nil
}
