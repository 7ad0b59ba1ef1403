// Package app implements the order lifecycle: atomic creation of an order
// with its items, idempotent lookups and validated status transitions.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator/saga"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

const (
	defaultOrderNumberPrefix = "MV"
	defaultUserOrdersLimit   = 10
	maxListLimit             = 500
	maxStatusRetries         = 3
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Manager is the OrderLifecycleManager.
type Manager struct {
	store   domain.Store
	now     func() time.Time
	prefix  string
	sagaLog sagalog.Repository
	logger  *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithOrderNumberPrefix sets the prefix of generated order numbers.
func WithOrderNumberPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

func WithSagaLog(repo sagalog.Repository) Option {
	return func(m *Manager) { m.sagaLog = repo }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(store domain.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		prefix: defaultOrderNumberPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateOrderNumber returns a new support-friendly order reference.
func (m *Manager) GenerateOrderNumber() string {
	return GenerateOrderNumber(m.prefix, m.now())
}

// CreateOrder writes a pending order and all of its items. If the items
// cannot be written the order row is deleted again and a PersistenceError
// is returned; no partial order survives.
func (m *Manager) CreateOrder(ctx context.Context, data domain.CreateOrderData) (*domain.Order, error) {
	if err := validateCreate(data); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	order := &domain.Order{
		ID:              uuid.NewString(),
		OrderNumber:     GenerateOrderNumber(m.prefix, now),
		UserID:          data.UserID,
		Status:          domain.StatusPending,
		TotalAmount:     data.TotalAmount.Round(2),
		Currency:        data.Currency,
		ShippingAddress: data.ShippingAddress,
		BillingAddress:  data.BillingAddress,
		CustomerEmail:   strings.TrimSpace(data.CustomerEmail),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	items := make([]domain.OrderItem, len(data.Items))
	for i, it := range data.Items {
		items[i] = domain.OrderItem{
			OrderID:         order.ID,
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImageURL: it.ProductImageURL,
			Quantity:        it.Quantity,
			PriceAtTime:     it.Price,
		}
	}

	steps := []saga.Step{
		&insertOrderStep{store: m.store, order: order},
		&insertItemsStep{store: m.store, orderID: order.ID, items: items},
	}
	orchestrator := saga.New("create_order", order.ID, steps,
		saga.WithLog(m.sagaLog),
		saga.WithLogger(m.logger),
	)
	if err := orchestrator.Start(ctx); err != nil {
		var sagaErr *saga.Error
		if errors.As(err, &sagaErr) && !sagaErr.Compensated() {
			m.logger.ErrorContext(ctx, "CRITICAL: order creation left a partial order",
				"order_id", order.ID, "error", err)
		}
		return nil, &apperr.PersistenceError{Op: "create order", Err: err}
	}

	metrics.OrdersTotal.WithLabelValues(string(domain.StatusPending)).Inc()
	m.logger.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"items", len(items),
		"request_id", interceptors.RequestIDFromContext(ctx),
	)
	return order, nil
}

func validateCreate(data domain.CreateOrderData) error {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(data.CustomerEmail) == "" {
		v.Add("customerEmail", apperr.CodeMissingField, "Customer email is required")
	}
	if !currencyPattern.MatchString(data.Currency) {
		v.Add("currency", apperr.CodeInvalidValue, "Currency must be a three-letter ISO code")
	}
	if data.TotalAmount.IsNegative() {
		v.Add("amount", apperr.CodeInvalidValue, "Amount must not be negative")
	}
	if len(data.Items) == 0 {
		v.Add("cartItems", apperr.CodeMissingField, "Order must contain at least one item")
	}
	for i, it := range data.Items {
		if it.ProductID == "" || it.Quantity < 1 || it.Price.IsNegative() {
			v.Add(fmt.Sprintf("cartItems[%d]", i), apperr.CodeInvalidValue, "Invalid order item")
		}
	}
	return v.OrNil()
}

// GetOrder has no side effects and may be called any number of times.
func (m *Manager) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return m.store.GetOrder(ctx, id)
}

// GetOrderByPaymentReference has no side effects and never creates an order.
func (m *Manager) GetOrderByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	return m.store.GetOrderByPaymentReference(ctx, ref)
}

// GetOrderItems returns the items of an order in insertion order.
func (m *Manager) GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	if _, err := m.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return m.store.ListItems(ctx, orderID)
}

// ListUserOrders returns a user's most recent orders, newest first.
func (m *Manager) ListUserOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultUserOrdersLimit
	}
	return m.ListOrders(ctx, ListQuery{UserID: userID, Limit: limit})
}

// ListQuery is the caller-facing form of domain.ListFilter.
type ListQuery struct {
	Status    domain.Status
	UserID    string
	OlderThan time.Duration
	Limit     int
}

// ListOrders lists orders newest first. With Status pending and a positive
// OlderThan it yields the abandoned checkouts an external reaper expires.
func (m *Manager) ListOrders(ctx context.Context, q ListQuery) ([]domain.Order, error) {
	f := domain.ListFilter{Status: q.Status, UserID: q.UserID, Limit: q.Limit}
	if q.OlderThan > 0 {
		f.CreatedBefore = m.now().UTC().Add(-q.OlderThan)
	}
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return m.store.ListOrders(ctx, f)
}

func (m *Manager) Stats(ctx context.Context) (domain.Stats, error) {
	return m.store.Stats(ctx)
}

// UpdateStatus moves an order to a new status. Moving to the current status
// is a no-op; transitions outside the table fail with ErrInvalidTransition.
func (m *Manager) UpdateStatus(ctx context.Context, id string, to domain.Status) (*domain.Order, error) {
	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		order, err := m.store.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if order.Status == to {
			return order, nil
		}
		if !domain.CanTransition(order.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, order.Status, to)
		}

		now := m.now().UTC()
		err = m.store.UpdateStatus(ctx, id, order.Status, to, now)
		if errors.Is(err, domain.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update order %s status: %w", id, err)
		}

		metrics.OrdersTotal.WithLabelValues(string(to)).Inc()
		m.logger.InfoContext(ctx, "order status changed",
			"order_id", id, "from", string(order.Status), "to", string(to))
		order.Status = to
		order.UpdatedAt = now
		return order, nil
	}
	return nil, fmt.Errorf("update order %s status: %w", id, domain.ErrStatusConflict)
}

// SetPaymentReference links the order to its payment provider intent.
func (m *Manager) SetPaymentReference(ctx context.Context, id, ref string) error {
	if err := m.store.SetPaymentReference(ctx, id, ref, m.now().UTC()); err != nil {
		return fmt.Errorf("set payment reference on %s: %w", id, err)
	}
	return nil
}

// DiscardPending undoes a pending order created moments ago: it deletes the
// order, and if that fails it marks the order failed so that no orphan
// pending order remains. Non-pending orders are left untouched.
func (m *Manager) DiscardPending(ctx context.Context, id string) error {
	order, err := m.store.GetOrder(ctx, id)
	if apperr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("discard order %s: %w", id, err)
	}
	if order.Status != domain.StatusPending {
		return nil
	}

	delErr := m.store.DeleteOrder(ctx, id, domain.StatusPending)
	switch {
	case delErr == nil:
		m.logger.InfoContext(ctx, "pending order discarded", "order_id", id)
		return nil
	case apperr.IsNotFound(delErr):
		return nil
	case errors.Is(delErr, domain.ErrStatusConflict):
		m.logger.InfoContext(ctx, "order left pending state before discard, keeping it", "order_id", id)
		return nil
	}
	m.logger.WarnContext(ctx, "delete of pending order failed, marking failed",
		"order_id", id, "error", delErr)

	if _, err := m.UpdateStatus(ctx, id, domain.StatusFailed); err != nil {
		return errors.Join(
			fmt.Errorf("delete order %s: %w", id, delErr),
			fmt.Errorf("fail order %s: %w", id, err),
		)
	}
	return nil
}
