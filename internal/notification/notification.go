// Package notification informs downstream systems about order outcomes.
// Dispatch is fire-and-forget from the checkout's point of view: a failed
// notification never changes the order.
package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

type Event string

const (
	EventOrderConfirmed Event = "order.confirmed"
	EventPaymentFailed  Event = "order.payment_failed"
)

type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// Breakdown is the rounded price breakdown shown to the customer.
type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

type Payload struct {
	Event         Event      `json:"event"`
	OrderID       string     `json:"order_id"`
	OrderNumber   string     `json:"order_number"`
	Status        string     `json:"status"`
	CustomerEmail string     `json:"customer_email"`
	Currency      string     `json:"currency"`
	Breakdown     *Breakdown `json:"breakdown,omitempty"`
	Items         []Item     `json:"items,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, p Payload) error
}

// LogDispatcher writes the notification to the log. It is the default when
// no webhook is configured.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(ctx context.Context, p Payload) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"event", string(p.Event),
		"order_id", p.OrderID,
		"order_number", p.OrderNumber,
		"status", p.Status,
	}
	if p.Breakdown != nil {
		attrs = append(attrs, "total", p.Breakdown.Total.StringFixed(2), "currency", p.Currency)
	}
	logger.InfoContext(ctx, "order notification", attrs...)
	return nil
}
