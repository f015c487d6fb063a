package notify

import (
	"context"
	"errors"
	"time"
)

// Type categorizes a notification.
type Type string

const (
	TypeLowStock     Type = "LOW_STOCK"
	TypeStockOut     Type = "STOCK_OUT"
	TypePriceChange  Type = "PRICE_CHANGE"
	TypeNewShipment  Type = "NEW_SHIPMENT"
	TypeOrderStatus  Type = "ORDER_STATUS"
	TypeQualityAlert Type = "QUALITY_ALERT"
	TypeSystem       Type = "SYSTEM"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	switch t {
	case TypeLowStock, TypeStockOut, TypePriceChange, TypeNewShipment,
		TypeOrderStatus, TypeQualityAlert, TypeSystem:
		return true
	}
	return false
}

// MaxMessageLen is the message length limit enforced at creation.
const MaxMessageLen = 500

var (
	// ErrValidation reports bad input to a dispatcher operation.
	ErrValidation = errors.New("notify: invalid input")

	// ErrNotFound reports a referenced notification or recipient that
	// does not exist.
	ErrNotFound = errors.New("notify: not found")
)

// Receipt is one recipient's read state on a notification.
type Receipt struct {
	RecipientID string
	Read        bool
	ReadAt      *time.Time
}

// Notification is a persisted message addressed to one or more
// recipients. The recipient set is fixed at creation; only read state
// mutates afterwards.
type Notification struct {
	ID       string
	Type     Type
	Message  string
	Time     time.Time
	Receipts []Receipt
}

// Receipt returns the receipt for recipientID, if present.
func (n *Notification) Receipt(recipientID string) (Receipt, bool) {
	for _, r := range n.Receipts {
		if r.RecipientID == recipientID {
			return r, true
		}
	}
	return Receipt{}, false
}

// Repository is the persistence collaborator for notifications.
// Implementations return ErrNotFound where documented.
type Repository interface {
	// Insert stores a new notification with its receipts.
	Insert(ctx context.Context, n *Notification) error

	// Get returns the notification with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Notification, error)

	// MarkRead flips one recipient's receipt to read at the given
	// time. Returns ErrNotFound when the notification does not exist
	// or the recipient is not on it; returns false without error when
	// the receipt was already read.
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error)

	// MarkAllRead flips every unread receipt of recipientID and
	// returns the count flipped.
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)

	// UnreadCount returns the number of unread receipts for recipientID.
	UnreadCount(ctx context.Context, recipientID string) (int, error)

	// ListByRecipient returns notifications addressed to recipientID,
	// newest first. limit <= 0 means no limit.
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*Notification, error)

	// Delete removes the notification with id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// DeleteReadBefore removes notifications older than cutoff whose
	// receipts are all read, returning the count removed.
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Renderer turns a template name and data into a deliverable body.
// It is an external collaborator; the core never renders templates
// itself.
type Renderer interface {
	Render(template string, data map[string]any) (string, error)
}

// Transport sends a rendered message to a recipient address.
type Transport interface {
	Send(ctx context.Context, address, subject, body string) error
}

// Directory resolves recipients and their delivery addresses from the
// external preference store.
type Directory interface {
	// Address returns the delivery address for a recipient.
	Address(ctx context.Context, recipientID string) (string, error)

	// Recipients returns the recipient set subscribed to a
	// notification type.
	Recipients(ctx context.Context, t Type) ([]string, error)
}

// Delivery is one recipient's fan-out outcome. Err is nil on success.
type Delivery struct {
	RecipientID string
	Address     string
	Err         error
}
