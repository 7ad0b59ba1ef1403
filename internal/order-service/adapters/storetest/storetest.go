// Package storetest is a conformance suite every domain.Store adapter runs.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

// Factory returns an empty store.
type Factory func(t *testing.T) domain.Store

var base = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

// NewOrder builds a pending order fixture.
func NewOrder(created time.Time, userID string) *domain.Order {
	return &domain.Order{
		ID:          uuid.NewString(),
		OrderNumber: "MV-" + uuid.NewString()[:12],
		UserID:      userID,
		Status:      domain.StatusPending,
		TotalAmount: decimal.RequireFromString("60.59"),
		Currency:    "EUR",
		ShippingAddress: pricing.ShippingAddress{
			FirstName: "Ada", LastName: "Lovelace", Address: "Unter den Linden 1",
			City: "Berlin", Region: "BE", PostalCode: "10117", CountryCode: "DE",
		},
		CustomerEmail: "ada@example.com",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func items(orderID string, n int) []domain.OrderItem {
	out := make([]domain.OrderItem, n)
	for i := range out {
		out[i] = domain.OrderItem{
			OrderID:     orderID,
			ProductID:   fmt.Sprintf("%s-p%d", orderID[:8], i),
			ProductName: fmt.Sprintf("Product %d", i),
			Quantity:    i + 1,
			PriceAtTime: decimal.New(int64(1000+i), -2),
		}
	}
	return out
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("insert and get", func(t *testing.T) { testInsertAndGet(t, newStore(t)) })
	t.Run("items keep insertion order", func(t *testing.T) { testItems(t, newStore(t)) })
	t.Run("delete cascades to items", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("delete only while status matches", func(t *testing.T) { testGuardedDelete(t, newStore(t)) })
	t.Run("payment reference lookup", func(t *testing.T) { testPaymentReference(t, newStore(t)) })
	t.Run("status compare and set", func(t *testing.T) { testUpdateStatus(t, newStore(t)) })
	t.Run("list filters", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("stats", func(t *testing.T) { testStats(t, newStore(t)) })
	t.Run("concurrent orders keep their own items", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func testInsertAndGet(t *testing.T, s domain.Store) {
	ctx := context.Background()
	o := NewOrder(base, "user-1")
	billing := o.ShippingAddress
	billing.City = "Potsdam"
	o.BillingAddress = &billing
	require.NoError(t, s.InsertOrder(ctx, o))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount), "total %s", got.TotalAmount)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, o.ShippingAddress, got.ShippingAddress)
	require.NotNil(t, got.BillingAddress)
	assert.Equal(t, "Potsdam", got.BillingAddress.City)
	assert.Equal(t, "ada@example.com", got.CustomerEmail)
	assert.True(t, base.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)

	_, err = s.GetOrder(ctx, uuid.NewString())
	assert.True(t, apperr.IsNotFound(err), "want not found, got %v", err)
}

func testItems(t *testing.T, s domain.Store) {
	ctx := context.Background()
	o := NewOrder(base, "")
	require.NoError(t, s.InsertOrder(ctx, o))
	want := items(o.ID, 3)
	require.NoError(t, s.InsertItems(ctx, o.ID, want))

	got, err := s.ListItems(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range want {
		assert.Equal(t, want[i].ProductID, got[i].ProductID)
		assert.Equal(t, want[i].Quantity, got[i].Quantity)
		assert.True(t, want[i].PriceAtTime.Equal(got[i].PriceAtTime))
		assert.Equal(t, o.ID, got[i].OrderID)
	}

	order, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, order.BillingAddress)
}

func testDelete(t *testing.T, s domain.Store) {
	ctx := context.Background()
	o := NewOrder(base, "")
	require.NoError(t, s.InsertOrder(ctx, o))
	require.NoError(t, s.InsertItems(ctx, o.ID, items(o.ID, 2)))

	require.NoError(t, s.DeleteOrder(ctx, o.ID, domain.StatusPending))

	_, err := s.GetOrder(ctx, o.ID)
	assert.True(t, apperr.IsNotFound(err))
	left, err := s.ListItems(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	assert.True(t, apperr.IsNotFound(s.DeleteOrder(ctx, o.ID, domain.StatusPending)))
}

func testGuardedDelete(t *testing.T, s domain.Store) {
	ctx := context.Background()
	o := NewOrder(base, "")
	require.NoError(t, s.InsertOrder(ctx, o))
	require.NoError(t, s.UpdateStatus(ctx, o.ID, domain.StatusPending, domain.StatusProcessing, base.Add(time.Second)))

	err := s.DeleteOrder(ctx, o.ID, domain.StatusPending)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
}

func testPaymentReference(t *testing.T, s domain.Store) {
	ctx := context.Background()
	o := NewOrder(base, "")
	require.NoError(t, s.InsertOrder(ctx, o))

	_, err := s.GetOrderByPaymentReference(ctx, "pi_123")
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, s.SetPaymentReference(ctx, o.ID, "pi_123", base.Add(time.Second)))

	for i := 0; i < 2; i++ {
		got, err := s.GetOrderByPaymentReference(ctx, "pi_123")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.Equal(t, "pi_123", got.PaymentReference)
	}

	other := NewOrder(base, "")
	require.NoError(t, s.InsertOrder(ctx, other))
	assert.Error(t, s.SetPaymentReference(ctx, other.ID, "pi_123", base))

	assert.True(t, apperr.IsNotFound(s.SetPaymentReference(ctx, uuid.NewString(), "pi_999", base)))
}

func testUpdateStatus(t *testing.T, s domain.Store) {
	ctx := context.Background()
	o := NewOrder(base, "")
	require.NoError(t, s.InsertOrder(ctx, o))

	later := base.Add(time.Minute)
	require.NoError(t, s.UpdateStatus(ctx, o.ID, domain.StatusPending, domain.StatusProcessing, later))

	err := s.UpdateStatus(ctx, o.ID, domain.StatusPending, domain.StatusFailed, later)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.True(t, later.Equal(got.UpdatedAt), "updated_at %s", got.UpdatedAt)

	err = s.UpdateStatus(ctx, uuid.NewString(), domain.StatusPending, domain.StatusFailed, later)
	assert.True(t, apperr.IsNotFound(err), "want not found, got %v", err)
}

func testList(t *testing.T, s domain.Store) {
	ctx := context.Background()
	old := NewOrder(base.Add(-2*time.Hour), "user-a")
	recent := NewOrder(base.Add(-5*time.Minute), "user-a")
	done := NewOrder(base.Add(-3*time.Hour), "user-b")
	for _, o := range []*domain.Order{old, recent, done} {
		require.NoError(t, s.InsertOrder(ctx, o))
	}
	require.NoError(t, s.UpdateStatus(ctx, done.ID, domain.StatusPending, domain.StatusProcessing, base))

	stale, err := s.ListOrders(ctx, domain.ListFilter{
		Status:        domain.StatusPending,
		CreatedBefore: base.Add(-30 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	byUser, err := s.ListOrders(ctx, domain.ListFilter{UserID: "user-a"})
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, recent.ID, byUser[0].ID, "newest first")

	limited, err := s.ListOrders(ctx, domain.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testStats(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a := NewOrder(base, "")
	b := NewOrder(base, "")
	b.TotalAmount = decimal.RequireFromString("10.01")
	c := NewOrder(base, "")
	for _, o := range []*domain.Order{a, b, c} {
		require.NoError(t, s.InsertOrder(ctx, o))
	}
	for _, o := range []*domain.Order{a, b} {
		require.NoError(t, s.UpdateStatus(ctx, o.ID, domain.StatusPending, domain.StatusProcessing, base))
		require.NoError(t, s.UpdateStatus(ctx, o.ID, domain.StatusProcessing, domain.StatusCompleted, base))
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByStatus[domain.StatusCompleted])
	assert.Equal(t, 1, st.ByStatus[domain.StatusPending])
	assert.Equal(t, "70.60", st.CompletedRevenue.StringFixed(2))
}

func testConcurrent(t *testing.T, s domain.Store) {
	ctx := context.Background()
	const n = 8
	orders := make([]*domain.Order, n)
	for i := range orders {
		orders[i] = NewOrder(base, "")
	}

	var wg sync.WaitGroup
	for i := range orders {
		wg.Add(1)
		go func(o *domain.Order, count int) {
			defer wg.Done()
			assert.NoError(t, s.InsertOrder(ctx, o))
			assert.NoError(t, s.InsertItems(ctx, o.ID, items(o.ID, count)))
		}(orders[i], i+1)
	}
	wg.Wait()

	for i, o := range orders {
		got, err := s.ListItems(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, got, i+1)
		for _, it := range got {
			assert.Equal(t, o.ID, it.OrderID)
			assert.Equal(t, o.ID[:8], it.ProductID[:8])
		}
	}
}
