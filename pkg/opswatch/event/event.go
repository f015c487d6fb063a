package event

import (
	"time"

	"github.com/google/uuid"
)

// Name identifies an event kind. The set of valid names is closed;
// see the constants below.
type Name string

const (
	// TaskError fires when a scheduled task's handler returns an error.
	TaskError Name = "system.task_error"

	// HighMemoryUsage fires when the health probe observes memory
	// pressure above the configured ratio.
	HighMemoryUsage Name = "system.high_memory_usage"

	// HealthCheckFailed fires when the health probe cannot reach the
	// persistence layer.
	HealthCheckFailed Name = "system.health_check_failed"

	// ErrorTracked fires for every error accepted by the aggregator.
	ErrorTracked Name = "error.tracked"

	// ThresholdExceeded fires when an error key's in-window occurrence
	// count reaches its severity threshold.
	ThresholdExceeded Name = "error.threshold_exceeded"

	// InventoryLow fires once per product found at or below its
	// reorder point by the inventory sweep.
	InventoryLow Name = "inventory.low"

	// InventoryExpiring fires once per product batch nearing its
	// expiry date.
	InventoryExpiring Name = "inventory.expiring"
)

var names = map[Name]struct{}{
	TaskError:         {},
	HighMemoryUsage:   {},
	HealthCheckFailed: {},
	ErrorTracked:      {},
	ThresholdExceeded: {},
	InventoryLow:      {},
	InventoryExpiring: {},
}

// Valid reports whether n is one of the enumerated event names.
func (n Name) Valid() bool {
	_, ok := names[n]
	return ok
}

// String returns the name as a plain string.
func (n Name) String() string { return string(n) }

// Event is the envelope delivered to subscribers. Events are immutable
// once published.
type Event struct {
	ID      string
	Name    Name
	Time    time.Time
	Payload any
}

// New creates an event with a fresh ID and the current time.
func New(name Name, payload any) Event {
	return Event{
		ID:      uuid.New().String(),
		Name:    name,
		Time:    time.Now(),
		Payload: payload,
	}
}

// TaskErrorPayload accompanies TaskError.
type TaskErrorPayload struct {
	Task string
	Err  error
}

// MemoryPayload accompanies HighMemoryUsage. Usage is the observed
// heap-in-use to total ratio in [0,1].
type MemoryPayload struct {
	Usage float64
	Limit float64
}

// HealthCheckPayload accompanies HealthCheckFailed.
type HealthCheckPayload struct {
	Err error
}

// LowStockPayload accompanies InventoryLow.
type LowStockPayload struct {
	ProductID    string
	Quantity     int
	ReorderPoint int
}

// ExpiringPayload accompanies InventoryExpiring.
type ExpiringPayload struct {
	ProductID  string
	ExpiryDate time.Time
}
