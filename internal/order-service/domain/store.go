package domain

import (
	"context"
	"errors"
	"time"
)

// ErrStatusConflict is returned by Store.UpdateStatus when the stored status
// no longer matches the expected one.
var ErrStatusConflict = errors.New("order status changed concurrently")

// Store is the persistent-store collaborator for orders and their items.
// Lookups of unknown ids or references return *apperr.NotFoundError.
type Store interface {
	InsertOrder(ctx context.Context, o *Order) error
	// InsertItems writes all items or none.
	InsertItems(ctx context.Context, orderID string, items []OrderItem) error
	// DeleteOrder removes the order and its items only while its status is
	// still status; otherwise it returns ErrStatusConflict.
	DeleteOrder(ctx context.Context, id string, status Status) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByPaymentReference(ctx context.Context, ref string) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, error)
	ListItems(ctx context.Context, orderID string) ([]OrderItem, error)
	Stats(ctx context.Context) (Stats, error)

	// UpdateStatus sets the status only if it currently equals from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	SetPaymentReference(ctx context.Context, id, ref string, at time.Time) error
}
