package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/opswatch/pkg/opswatch/observability"
)

// Options configures a Dispatcher. Renderer, Transport, and Directory
// may all be nil, which disables email fan-out.
type Options struct {
	Renderer  Renderer
	Transport Transport
	Directory Directory

	// Logger receives delivery failure logs. Nil disables logging.
	Logger *slog.Logger

	// Metrics records delivery attempts. Nil falls back to NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces deliveries. Nil falls back to NoopSpanManager.
	Spans observability.SpanManager

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Dispatcher creates notifications and fans them out.
type Dispatcher struct {
	repo      Repository
	renderer  Renderer
	transport Transport
	directory Directory
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	now       func() time.Time
}

// New creates a dispatcher persisting to repo.
func New(repo Repository, opts Options) *Dispatcher {
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

	return &Dispatcher{
		repo:      repo,
		renderer:  opts.Renderer,
		transport: opts.Transport,
		directory: opts.Directory,
		logger:    opts.Logger,
		metrics:   metrics,
		spans:     spans,
		now:       now,
	}
}

// CreateInput describes a notification to create.
type CreateInput struct {
	Type         Type
	Message      string
	RecipientIDs []string

	// SendEmail enables fan-out through the renderer and transport.
	SendEmail bool

	// Template names the body template for fan-out. Empty means the
	// type's default template.
	Template string

	// Data is merged into the render data alongside the message.
	Data map[string]any
}

// Create validates input, persists the notification with one unread
// receipt per recipient, and, when SendEmail is set, attempts one
// delivery per recipient. The returned outcome list has one entry per
// recipient in input order; a failed delivery is reported there and
// never aborts the others or the creation.
func (d *Dispatcher) Create(ctx context.Context, input CreateInput) (*Notification, []Delivery, error) {
	if len(input.RecipientIDs) == 0 {
		return nil, nil, fmt.Errorf("%w: recipient list is empty", ErrValidation)
	}
	if len(input.Message) > MaxMessageLen {
		return nil, nil, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, MaxMessageLen)
	}
	if !input.Type.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, input.Type)
	}

	n := &Notification{
		ID:       uuid.New().String(),
		Type:     input.Type,
		Message:  input.Message,
		Time:     d.now(),
		Receipts: make([]Receipt, 0, len(input.RecipientIDs)),
	}
	for _, id := range input.RecipientIDs {
		n.Receipts = append(n.Receipts, Receipt{RecipientID: id})
	}

	if err := d.repo.Insert(ctx, n); err != nil {
		return nil, nil, fmt.Errorf("insert notification: %w", err)
	}

	var deliveries []Delivery
	if input.SendEmail {
		deliveries = d.fanOut(ctx, n, input)
	}
	return n, deliveries, nil
}

// fanOut renders and sends one message per recipient, collecting
// per-recipient outcomes.
func (d *Dispatcher) fanOut(ctx context.Context, n *Notification, input CreateInput) []Delivery {
	deliveries := make([]Delivery, 0, len(input.RecipientIDs))
	for _, recipientID := range input.RecipientIDs {
		outcome := Delivery{RecipientID: recipientID}
		outcome.Address, outcome.Err = d.deliver(ctx, n, input, recipientID)

		d.metrics.RecordDelivery(ctx, outcome.Err == nil)
		if outcome.Err != nil {
			observability.LogDeliveryError(d.logger, n.ID, recipientID, outcome.Err)
		}
		deliveries = append(deliveries, outcome)
	}
	return deliveries
}

// deliver sends to a single recipient.
func (d *Dispatcher) deliver(ctx context.Context, n *Notification, input CreateInput, recipientID string) (address string, err error) {
	if d.transport == nil || d.renderer == nil || d.directory == nil {
		return "", fmt.Errorf("email fan-out is not configured")
	}

	ctx, span := d.spans.StartDeliverySpan(ctx, recipientID)
	defer func() { d.spans.EndSpanWithError(span, err) }()

	address, err = d.directory.Address(ctx, recipientID)
	if err != nil {
		return "", fmt.Errorf("resolve address: %w", err)
	}

	template := input.Template
	if template == "" {
		template = defaultTemplate(n.Type)
	}
	data := map[string]any{
		"message": n.Message,
		"type":    string(n.Type),
		"time":    n.Time,
	}
	for k, v := range input.Data {
		data[k] = v
	}

	body, err := d.renderer.Render(template, data)
	if err != nil {
		return address, fmt.Errorf("render %q: %w", template, err)
	}

	if err := d.transport.Send(ctx, address, subjectFor(n.Type), body); err != nil {
		return address, fmt.Errorf("send: %w", err)
	}
	return address, nil
}

// defaultTemplate maps a notification type to its template name.
func defaultTemplate(t Type) string {
	switch t {
	case TypeLowStock, TypeStockOut:
		return "stock-alert"
	case TypeOrderStatus, TypeNewShipment:
		return "order-update"
	default:
		return "notification"
	}
}

// subjectFor maps a notification type to its email subject line.
func subjectFor(t Type) string {
	switch t {
	case TypeLowStock:
		return "Low stock alert"
	case TypeStockOut:
		return "Stock out alert"
	case TypePriceChange:
		return "Price change"
	case TypeNewShipment:
		return "New shipment"
	case TypeOrderStatus:
		return "Order update"
	case TypeQualityAlert:
		return "Quality alert"
	default:
		return "System notification"
	}
}

// MarkRead idempotently flips one recipient's receipt to read.
// Returns ErrNotFound when the notification does not exist or the user
// is not among its recipients; marking an already-read receipt is a
// no-op, not an error.
func (d *Dispatcher) MarkRead(ctx context.Context, id, userID string) error {
	_, err := d.repo.MarkRead(ctx, id, userID, d.now())
	return err
}

// MarkAllRead flips all of a user's unread receipts and returns the
// count flipped.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return d.repo.MarkAllRead(ctx, userID, d.now())
}

// UnreadCount returns the user's unread notification count.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int, error) {
	return d.repo.UnreadCount(ctx, userID)
}

// List returns notifications addressed to userID, newest first.
func (d *Dispatcher) List(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	return d.repo.ListByRecipient(ctx, userID, limit)
}

// Delete hard-deletes a notification. Returns ErrNotFound when absent.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	return d.repo.Delete(ctx, id)
}

// CleanupRead deletes fully-read notifications older than retention
// and returns the count removed.
func (d *Dispatcher) CleanupRead(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := d.now().Add(-retention)
	removed, err := d.repo.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	observability.LogCleanup(d.logger, removed, cutoff)
	return removed, nil
}
