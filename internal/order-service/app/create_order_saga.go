package app

import (
	"context"
	"fmt"

	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
)

type insertOrderStep struct {
	store domain.Store
	order *domain.Order
}

func (s *insertOrderStep) Name() string { return "Insert_Order_Step" }

func (s *insertOrderStep) Execute(ctx context.Context) error {
	if err := s.store.InsertOrder(ctx, s.order); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Compensate deletes the order row (and any items) just written.
func (s *insertOrderStep) Compensate(ctx context.Context) error {
	return s.store.DeleteOrder(ctx, s.order.ID, domain.StatusPending)
}

type insertItemsStep struct {
	store   domain.Store
	orderID string
	items   []domain.OrderItem
}

func (s *insertItemsStep) Name() string { return "Insert_Order_Items_Step" }

func (s *insertItemsStep) Execute(ctx context.Context) error {
	if err := s.store.InsertItems(ctx, s.orderID, s.items); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

// Compensate is a no-op: InsertItems is all-or-nothing and the order
// compensation removes the rows with the order.
func (s *insertItemsStep) Compensate(context.Context) error { return nil }
