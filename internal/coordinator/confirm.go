package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jcmexdev/storefront-checkout/internal/notification"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/payment-service/provider"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

// RetryPath carries what the customer entered so a failed payment can be
// retried without re-entering the cart or address.
type RetryPath struct {
	Reason          string                   `json:"reason,omitempty"`
	CartItems       []CartItem               `json:"cartItems"`
	CustomerEmail   string                   `json:"customerEmail"`
	Currency        string                   `json:"currency"`
	ShippingAddress pricing.ShippingAddress  `json:"shippingAddress"`
	BillingAddress  *pricing.ShippingAddress `json:"billingAddress,omitempty"`
}

type ConfirmResult struct {
	Order *domain.Order
	Retry *RetryPath
}

// Confirm asks the provider to confirm the intent and moves the order
// accordingly. Network errors are returned for the caller to retry;
// declines are not retried.
func (c *Coordinator) Confirm(ctx context.Context, intentID string) (*ConfirmResult, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent_id", intentID))

	order, err := c.orders.GetOrderByPaymentReference(ctx, intentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	conf, err := c.provider.Confirm(ctx, intentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider confirmation failed")
		metrics.PaymentIntents.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	res, err := c.applyOutcome(ctx, order, conf.Status, conf.Reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order transition failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("order.status", string(res.Order.Status)))
	return res, nil
}

// WebhookEvent is a provider notification about an intent.
type WebhookEvent struct {
	Type     string
	IntentID string
}

const (
	WebhookSucceeded  = "payment_intent.succeeded"
	WebhookFailed     = "payment_intent.payment_failed"
	WebhookCanceled   = "payment_intent.canceled"
	WebhookProcessing = "payment_intent.processing"
)

// HandleWebhook applies a provider event. Redelivered events are no-ops and
// unknown event types are ignored.
func (c *Coordinator) HandleWebhook(ctx context.Context, ev WebhookEvent) error {
	var status provider.IntentStatus
	switch ev.Type {
	case WebhookSucceeded:
		status = provider.StatusSucceeded
	case WebhookFailed:
		status = provider.StatusFailed
	case WebhookCanceled:
		status = provider.StatusCanceled
	case WebhookProcessing:
		status = provider.StatusProcessing
	default:
		c.logger.InfoContext(ctx, "ignoring webhook event", "type", ev.Type)
		return nil
	}
	if ev.IntentID == "" {
		return &apperr.ValidationError{Fields: []apperr.FieldError{{
			Field: "data.object.id", Code: apperr.CodeMissingField, Message: "Payment intent id is required",
		}}}
	}

	order, err := c.orders.GetOrderByPaymentReference(ctx, ev.IntentID)
	if err != nil {
		return err
	}
	_, err = c.applyOutcome(ctx, order, status, "")
	return err
}

// Reconcile resolves a stale pending order against the provider and returns
// what was done: "completed", "failed", "canceled" or "kept".
func (c *Coordinator) Reconcile(ctx context.Context, order *domain.Order) (string, error) {
	if order.Status != domain.StatusPending {
		return "kept", nil
	}
	if order.PaymentReference == "" {
		if _, err := c.orders.UpdateStatus(ctx, order.ID, domain.StatusCanceled); err != nil {
			return "", err
		}
		return "canceled", nil
	}

	intent, err := c.provider.Retrieve(ctx, order.PaymentReference)
	if err != nil && !apperr.IsNotFound(err) {
		return "", err
	}

	status := provider.StatusCanceled
	if intent != nil {
		status = intent.Status
	}
	switch status {
	case provider.StatusSucceeded, provider.StatusFailed:
		res, err := c.applyOutcome(ctx, order, status, "expired")
		if err != nil {
			return "", err
		}
		return string(res.Order.Status), nil
	case provider.StatusProcessing:
		return "kept", nil
	}

	if intent != nil && intent.Status != provider.StatusCanceled {
		if err := c.provider.Cancel(ctx, intent.ID); err != nil {
			return "", fmt.Errorf("cancel intent %s: %w", intent.ID, err)
		}
	}
	if _, err := c.orders.UpdateStatus(ctx, order.ID, domain.StatusCanceled); err != nil {
		return "", err
	}
	return "canceled", nil
}

func (c *Coordinator) applyOutcome(ctx context.Context, order *domain.Order, status provider.IntentStatus, reason string) (*ConfirmResult, error) {
	switch status {
	case provider.StatusSucceeded:
		if order.Status == domain.StatusCompleted || order.Status == domain.StatusShipped {
			return &ConfirmResult{Order: order}, nil
		}
		updated, err := c.advance(ctx, order, domain.StatusProcessing, domain.StatusCompleted)
		if err != nil {
			return nil, err
		}
		metrics.PaymentIntents.WithLabelValues("confirmed").Inc()
		c.notify(ctx, notification.EventOrderConfirmed, updated, "")
		return &ConfirmResult{Order: updated}, nil

	case provider.StatusProcessing:
		updated, err := c.advance(ctx, order, domain.StatusProcessing)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Order: updated}, nil

	case provider.StatusFailed, provider.StatusCanceled:
		target := domain.StatusFailed
		if status == provider.StatusCanceled {
			target = domain.StatusCanceled
		}
		updated := order
		if order.Status != domain.StatusFailed && order.Status != domain.StatusCanceled {
			var err error
			updated, err = c.advance(ctx, order, target)
			if err != nil {
				return nil, err
			}
			metrics.PaymentIntents.WithLabelValues("payment_failed").Inc()
			c.notify(ctx, notification.EventPaymentFailed, updated, reason)
		}
		retry, err := c.retryPath(ctx, updated, reason)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Order: updated, Retry: retry}, nil
	}

	// requires_confirmation and friends leave the order as it is
	return &ConfirmResult{Order: order}, nil
}

// advance walks the order through path, skipping statuses already reached.
func (c *Coordinator) advance(ctx context.Context, order *domain.Order, path ...domain.Status) (*domain.Order, error) {
	for _, to := range path {
		if order.Status == to {
			continue
		}
		updated, err := c.orders.UpdateStatus(ctx, order.ID, to)
		if err != nil {
			return nil, err
		}
		order = updated
	}
	return order, nil
}

func (c *Coordinator) retryPath(ctx context.Context, order *domain.Order, reason string) (*RetryPath, error) {
	items, err := c.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	retry := &RetryPath{
		Reason:          reason,
		CartItems:       make([]CartItem, len(items)),
		CustomerEmail:   order.CustomerEmail,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
	}
	for i, it := range items {
		retry.CartItems[i] = CartItem{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImageURL: it.ProductImageURL,
			Quantity:        it.Quantity,
			Price:           it.PriceAtTime,
		}
	}
	return retry, nil
}

func (c *Coordinator) notify(ctx context.Context, event notification.Event, order *domain.Order, reason string) {
	p := notification.Payload{
		Event:         event,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		CustomerEmail: order.CustomerEmail,
		Currency:      order.Currency,
		Reason:        reason,
		OccurredAt:    c.now().UTC(),
	}

	items, err := c.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "notification sent without items", "order_id", order.ID, "error", err)
	}
	if len(items) > 0 {
		lines := make([]pricing.CartLine, len(items))
		for i, it := range items {
			lines[i] = pricing.CartLine{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.PriceAtTime}
			p.Items = append(p.Items, notification.Item{
				ProductID: it.ProductID, ProductName: it.ProductName, Quantity: it.Quantity, Price: it.PriceAtTime,
			})
		}
		if b, err := c.engine.CalculateTotals(lines, order.ShippingAddress, order.CreatedAt); err == nil {
			r := b.Rounded()
			p.Breakdown = &notification.Breakdown{Subtotal: r.Subtotal, Shipping: r.Shipping, Tax: r.Tax, Total: r.Total}
		}
	}

	if err := c.notifier.Dispatch(ctx, p); err != nil {
		c.logger.WarnContext(ctx, "order notification failed", "order_id", order.ID, "error", err)
	}
}
