package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrUnknownEvent is returned when a name outside the enumerated set
// is used with the bus.
var ErrUnknownEvent = fmt.Errorf("event: unknown event name")

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = fmt.Errorf("event: bus is closed")

// Handler processes a delivered event. A non-nil error is reported to
// the bus error hook; it never aborts delivery to later handlers.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// BusConfig configures bus behavior.
type BusConfig struct {
	// Logger receives handler failure logs. Nil disables logging.
	Logger *slog.Logger

	// OnError is called after a handler returns an error or panics.
	// Optional.
	OnError func(evt Event, err error)
}

// Bus is a synchronous in-process publish/subscribe registry. Handlers
// for a name run in registration order on the publisher's goroutine.
type Bus struct {
	config BusConfig

	mu       sync.RWMutex
	handlers map[Name][]*registration
	nextID   atomic.Int64
	closed   atomic.Bool
}

type registration struct {
	id      int64
	handler Handler
}

// NewBus creates an empty bus.
func NewBus(config BusConfig) *Bus {
	return &Bus{
		config:   config,
		handlers: make(map[Name][]*registration),
	}
}

// Subscribe registers handler for name and returns a function that
// removes the registration. Returns ErrUnknownEvent for names outside
// the enumerated set.
func (b *Bus) Subscribe(name Name, handler Handler) (func(), error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	reg := &registration{id: b.nextID.Add(1), handler: handler}

	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], reg)
	b.mu.Unlock()

	return func() { b.unsubscribe(name, reg.id) }, nil
}

func (b *Bus) unsubscribe(name Name, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[name]
	for i, reg := range regs {
		if reg.id == id {
			b.handlers[name] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every handler registered for evt.Name at the
// time of the call, synchronously and in registration order. Handler
// failures are logged and swallowed; Publish only errors on an unknown
// name or a closed bus.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if !evt.Name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Name)
	}
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.RLock()
	regs := b.handlers[evt.Name]
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)
	b.mu.RUnlock()

	for _, reg := range snapshot {
		b.deliver(ctx, reg, evt)
	}
	return nil
}

// deliver invokes a single handler, containing errors and panics so
// one subscriber cannot starve the rest.
func (b *Bus) deliver(ctx context.Context, reg *registration, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.reportError(evt, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := reg.handler.Handle(ctx, evt); err != nil {
		b.reportError(evt, err)
	}
}

func (b *Bus) reportError(evt Event, err error) {
	if b.config.Logger != nil {
		b.config.Logger.Error("event handler failed",
			slog.String("event", string(evt.Name)),
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}
	if b.config.OnError != nil {
		b.config.OnError(evt, err)
	}
}

// SubscriberCount returns the number of handlers registered for name.
func (b *Bus) SubscriberCount(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Close stops the bus. Subsequent Publish and Subscribe calls return
// ErrBusClosed; registered handlers are released.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	b.handlers = make(map[Name][]*registration)
	b.mu.Unlock()
	return nil
}
