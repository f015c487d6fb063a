package opswatch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/opswatch/pkg/opswatch"
	"github.com/randalmurphal/opswatch/pkg/opswatch/config"
	"github.com/randalmurphal/opswatch/pkg/opswatch/errtrack"
	"github.com/randalmurphal/opswatch/pkg/opswatch/event"
	"github.com/randalmurphal/opswatch/pkg/opswatch/notify"
	"github.com/randalmurphal/opswatch/pkg/opswatch/store"
)

type stubRenderer struct{}

func (stubRenderer) Render(template string, data map[string]any) (string, error) {
	return fmt.Sprintf("[%s] %v", template, data["message"]), nil
}

type stubTransport struct {
	sent []string
}

func (s *stubTransport) Send(_ context.Context, address, _, _ string) error {
	s.sent = append(s.sent, address)
	return nil
}

type stubDirectory struct {
	audiences map[notify.Type][]string
}

func (s *stubDirectory) Address(_ context.Context, recipientID string) (string, error) {
	return recipientID + "@example.com", nil
}

func (s *stubDirectory) Recipients(_ context.Context, t notify.Type) ([]string, error) {
	return s.audiences[t], nil
}

type stubInventory struct {
	low      []notify.Product
	expiring []notify.Product
}

func (s *stubInventory) ListLowStock(context.Context) ([]notify.Product, error) {
	return s.low, nil
}

func (s *stubInventory) ListExpiring(context.Context, time.Duration) ([]notify.Product, error) {
	return s.expiring, nil
}

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(context.Context) error { return s.err }

type coreEnv struct {
	core      *opswatch.Core
	errorRepo *store.MemoryErrorStore
	notifRepo *store.MemoryNotificationStore
	transport *stubTransport
	directory *stubDirectory
	inventory *stubInventory
	pinger    *stubPinger
	now       time.Time
}

func newCoreEnv(t *testing.T, mutate func(*config.Config, *opswatch.Deps)) *coreEnv {
	t.Helper()
	env := &coreEnv{
		errorRepo: store.NewMemoryErrorStore(),
		notifRepo: store.NewMemoryNotificationStore(),
		transport: &stubTransport{},
		directory: &stubDirectory{audiences: map[notify.Type][]string{
			notify.TypeSystem: {"ops"},
		}},
		inventory: &stubInventory{},
		pinger:    &stubPinger{},
		now:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	cfg := config.Default()
	deps := opswatch.Deps{
		ErrorRepo: env.errorRepo,
		NotifRepo: env.notifRepo,
		Renderer:  stubRenderer{},
		Transport: env.transport,
		Directory: env.directory,
		Inventory: env.inventory,
		Pinger:    env.pinger,
		Clock:     func() time.Time { return env.now },
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	core, err := opswatch.New(cfg, deps)
	require.NoError(t, err)
	env.core = core
	return env
}

func TestNewRequiresRepositories(t *testing.T) {
	cfg := config.Default()

	_, err := opswatch.New(cfg, opswatch.Deps{NotifRepo: store.NewMemoryNotificationStore()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ErrorRepo")

	_, err = opswatch.New(cfg, opswatch.Deps{ErrorRepo: store.NewMemoryErrorStore()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotifRepo")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.RetentionDays = 0

	_, err := opswatch.New(cfg, opswatch.Deps{
		ErrorRepo: store.NewMemoryErrorStore(),
		NotifRepo: store.NewMemoryNotificationStore(),
	})
	require.Error(t, err)
}

func TestDefaultJobsRegistered(t *testing.T) {
	env := newCoreEnv(t, nil)

	tasks := env.core.Scheduler().Tasks()
	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Name)
	}
	assert.ElementsMatch(t, []string{
		opswatch.JobCleanup, opswatch.JobHealthProbe, opswatch.JobInventorySweep,
	}, names)
}

func TestSweepJobSkippedWithoutInventorySource(t *testing.T) {
	env := newCoreEnv(t, func(_ *config.Config, deps *opswatch.Deps) {
		deps.Inventory = nil
	})

	for _, task := range env.core.Scheduler().Tasks() {
		assert.NotEqual(t, opswatch.JobInventorySweep, task.Name)
	}
}

func TestSchedulerDisabled(t *testing.T) {
	env := newCoreEnv(t, func(cfg *config.Config, _ *opswatch.Deps) {
		cfg.Scheduler.Disabled = true
	})

	assert.Empty(t, env.core.Scheduler().Tasks())
}

func TestTaskFailureIsTracked(t *testing.T) {
	env := newCoreEnv(t, nil)
	ctx := context.Background()

	boom := errors.New("import job exploded")
	require.NoError(t, env.core.Scheduler().Register("import", "0 3 * * *", func(context.Context) error {
		return boom
	}))
	require.NoError(t, env.core.Scheduler().RunNow(ctx, "import"))

	recs, err := env.errorRepo.List(ctx, errtrack.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "task", recs[0].Type)
	assert.Equal(t, "import job exploded", recs[0].Message)
	assert.Equal(t, "import", recs[0].Context["task"])
}

func TestThresholdTriggersSystemNotification(t *testing.T) {
	env := newCoreEnv(t, nil)
	ctx := context.Background()

	// Critical threshold is 1, so one fatal error trips it.
	env.core.Errors().Track(ctx, errtrack.Fatal(errors.New("data corruption")))

	got, err := env.notifRepo.ListByRecipient(ctx, "ops", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, notify.TypeSystem, got[0].Type)
	assert.Contains(t, got[0].Message, "critical error threshold exceeded")
	assert.Contains(t, got[0].Message, "data corruption")
	assert.Equal(t, []string{"ops@example.com"}, env.transport.sent)
}

func TestThresholdNoticeSkippedWithoutAudience(t *testing.T) {
	env := newCoreEnv(t, nil)
	env.directory.audiences = map[notify.Type][]string{}
	ctx := context.Background()

	env.core.Errors().Track(ctx, errtrack.Fatal(errors.New("data corruption")))

	got, err := env.notifRepo.ListByRecipient(ctx, "ops", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInventorySweepPublishesAlerts(t *testing.T) {
	env := newCoreEnv(t, nil)
	env.directory.audiences[notify.TypeLowStock] = []string{"buyer"}
	env.directory.audiences[notify.TypeStockOut] = []string{"buyer"}
	env.directory.audiences[notify.TypeQualityAlert] = []string{"qa"}
	ctx := context.Background()

	expiry := env.now.Add(10 * 24 * time.Hour)
	env.inventory.low = []notify.Product{
		{ID: "p1", Name: "Widget", Quantity: 2, ReorderPoint: 10},
		{ID: "p2", Name: "Gadget", Quantity: 0, ReorderPoint: 5},
	}
	env.inventory.expiring = []notify.Product{
		{ID: "p3", Name: "Serum", ExpiryDate: &expiry},
	}

	require.NoError(t, env.core.Scheduler().RunNow(ctx, opswatch.JobInventorySweep))

	buyerNotes, err := env.notifRepo.ListByRecipient(ctx, "buyer", 0)
	require.NoError(t, err)
	require.Len(t, buyerNotes, 2)
	types := []notify.Type{buyerNotes[0].Type, buyerNotes[1].Type}
	assert.ElementsMatch(t, []notify.Type{notify.TypeLowStock, notify.TypeStockOut}, types)

	qaNotes, err := env.notifRepo.ListByRecipient(ctx, "qa", 0)
	require.NoError(t, err)
	require.Len(t, qaNotes, 1)
	assert.Equal(t, notify.TypeQualityAlert, qaNotes[0].Type)
	assert.Contains(t, qaNotes[0].Message, "p3 expires on 2026-03-12")
}

func TestHealthProbeReportsStorageFailure(t *testing.T) {
	env := newCoreEnv(t, nil)
	env.pinger.err = errors.New("database unreachable")
	ctx := context.Background()

	require.NoError(t, env.core.Scheduler().RunNow(ctx, opswatch.JobHealthProbe))

	// The failure is tracked as an error record.
	recs, err := env.errorRepo.List(ctx, errtrack.Filter{Type: "health"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "database unreachable", recs[0].Message)

	// And the ops audience is notified.
	got, err := env.notifRepo.ListByRecipient(ctx, "ops", 0)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].Message, "health check failed")
}

func TestHealthProbeHealthy(t *testing.T) {
	env := newCoreEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.core.Scheduler().RunNow(ctx, opswatch.JobHealthProbe))

	got, err := env.notifRepo.ListByRecipient(ctx, "ops", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCleanupJob(t *testing.T) {
	env := newCoreEnv(t, nil)
	ctx := context.Background()

	// An error record past the 7-day retention and a fresh one.
	require.NoError(t, env.errorRepo.Insert(ctx, &errtrack.Record{
		ID: "stale", Type: "http", Message: "old", Severity: errtrack.SeverityLow,
		Time: env.now.Add(-8 * 24 * time.Hour),
	}))
	require.NoError(t, env.errorRepo.Insert(ctx, &errtrack.Record{
		ID: "fresh", Type: "http", Message: "new", Severity: errtrack.SeverityLow,
		Time: env.now.Add(-time.Hour),
	}))

	// A fully-read notification past the 30-day read retention.
	readAt := env.now.Add(-31 * 24 * time.Hour)
	require.NoError(t, env.notifRepo.Insert(ctx, &notify.Notification{
		ID: "n-old", Type: notify.TypeSystem, Message: "ancient",
		Time:     env.now.Add(-40 * 24 * time.Hour),
		Receipts: []notify.Receipt{{RecipientID: "ops", Read: true, ReadAt: &readAt}},
	}))

	require.NoError(t, env.core.Scheduler().RunNow(ctx, opswatch.JobCleanup))

	recs, err := env.errorRepo.List(ctx, errtrack.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].ID)

	_, err = env.notifRepo.Get(ctx, "n-old")
	assert.ErrorIs(t, err, notify.ErrNotFound)
}

func TestRunAndShutdown(t *testing.T) {
	env := newCoreEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.core.Run(ctx)
	env.core.Shutdown()

	// The bus is closed after shutdown.
	err := env.core.Bus().Publish(ctx, event.New(event.ErrorTracked, nil))
	assert.ErrorIs(t, err, event.ErrBusClosed)
}
