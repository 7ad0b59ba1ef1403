package ports

import (
	"context"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

type CheckoutService interface {
	Quote(ctx context.Context, items []coordinator.CartItem, addr pricing.ShippingAddress) (*coordinator.Quote, error)
	CreateIntent(ctx context.Context, req coordinator.CheckoutRequest) (*coordinator.IntentResult, error)
	Confirm(ctx context.Context, intentID string) (*coordinator.ConfirmResult, error)
	HandleWebhook(ctx context.Context, ev coordinator.WebhookEvent) error
}
