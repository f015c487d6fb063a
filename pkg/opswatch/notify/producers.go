package notify

import (
	"context"
	"fmt"
	"time"
)

// Product is the inventory view the producers need; the full product
// schema lives with the external query layer.
type Product struct {
	ID           string
	Name         string
	Quantity     int
	ReorderPoint int
	ExpiryDate   *time.Time
}

// Order is the order view the producers need.
type Order struct {
	ID       string
	Number   string
	Status   string
	Customer string
}

// LowStockAlert notifies the audience subscribed to stock alerts about
// a product at or below its reorder point. A product at zero quantity
// is reported as a stock-out.
func (d *Dispatcher) LowStockAlert(ctx context.Context, p Product) (*Notification, []Delivery, error) {
	typ := TypeLowStock
	message := fmt.Sprintf("%s is low on stock: %d left (reorder point %d)",
		p.Name, p.Quantity, p.ReorderPoint)
	if p.Quantity <= 0 {
		typ = TypeStockOut
		message = fmt.Sprintf("%s is out of stock", p.Name)
	}

	recipients, err := d.audience(ctx, typ)
	if err != nil {
		return nil, nil, err
	}

	return d.Create(ctx, CreateInput{
		Type:         typ,
		Message:      message,
		RecipientIDs: recipients,
		SendEmail:    true,
		Data: map[string]any{
			"product_id":    p.ID,
			"product_name":  p.Name,
			"quantity":      p.Quantity,
			"reorder_point": p.ReorderPoint,
		},
	})
}

// OrderUpdate notifies the audience subscribed to order status changes.
func (d *Dispatcher) OrderUpdate(ctx context.Context, o Order) (*Notification, []Delivery, error) {
	recipients, err := d.audience(ctx, TypeOrderStatus)
	if err != nil {
		return nil, nil, err
	}

	return d.Create(ctx, CreateInput{
		Type:         TypeOrderStatus,
		Message:      fmt.Sprintf("Order %s for %s is now %s", o.Number, o.Customer, o.Status),
		RecipientIDs: recipients,
		SendEmail:    true,
		Data: map[string]any{
			"order_id":     o.ID,
			"order_number": o.Number,
			"status":       o.Status,
		},
	})
}

func (d *Dispatcher) audience(ctx context.Context, t Type) ([]string, error) {
	if d.directory == nil {
		return nil, fmt.Errorf("%w: no recipient directory configured", ErrValidation)
	}
	recipients, err := d.directory.Recipients(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("resolve audience for %s: %w", t, err)
	}
	return recipients, nil
}
