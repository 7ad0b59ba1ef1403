// Package ports declares what the HTTP layer needs from the checkout core.
package ports

import (
	"context"

	"github.com/jcmexdev/storefront-checkout/internal/order-service/app"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
)

type OrderService interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByPaymentReference(ctx context.Context, ref string) (*domain.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	ListOrders(ctx context.Context, q app.ListQuery) ([]domain.Order, error)
	ListUserOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	Stats(ctx context.Context) (domain.Stats, error)
	UpdateStatus(ctx context.Context, id string, to domain.Status) (*domain.Order, error)
}
