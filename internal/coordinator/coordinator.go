// Package coordinator runs the checkout: it creates the pending order,
// requests the payment provider intent, and applies the provider's outcome
// to the order.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator/idempotency"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog"
	"github.com/jcmexdev/storefront-checkout/internal/notification"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/payment-service/provider"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

const tracerName = "github.com/jcmexdev/storefront-checkout/internal/coordinator"

// OrderManager is the part of the order lifecycle the checkout drives.
type OrderManager interface {
	CreateOrder(ctx context.Context, data domain.CreateOrderData) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByPaymentReference(ctx context.Context, ref string) (*domain.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	UpdateStatus(ctx context.Context, id string, to domain.Status) (*domain.Order, error)
	SetPaymentReference(ctx context.Context, id, ref string) error
	DiscardPending(ctx context.Context, id string) error
}

// AccountCreator registers a customer account during checkout. The password
// is handed through and never stored or logged here.
type AccountCreator interface {
	CreateAccount(ctx context.Context, email, password string, addr pricing.ShippingAddress) error
}

// Coordinator is the PaymentIntentCoordinator.
type Coordinator struct {
	orders   OrderManager
	provider provider.Provider
	engine   *pricing.Engine
	idem     idempotency.Store
	idemTTL  time.Duration
	notifier notification.Dispatcher
	accounts AccountCreator
	sagaLog  sagalog.Repository
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

type Option func(*Coordinator)

func WithIdempotencyStore(store idempotency.Store, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.idem = store
		if ttl > 0 {
			c.idemTTL = ttl
		}
	}
}

func WithNotifier(d notification.Dispatcher) Option {
	return func(c *Coordinator) { c.notifier = d }
}

func WithAccountCreator(a AccountCreator) Option {
	return func(c *Coordinator) { c.accounts = a }
}

func WithSagaLog(repo sagalog.Repository) Option {
	return func(c *Coordinator) { c.sagaLog = repo }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(orders OrderManager, p provider.Provider, engine *pricing.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		orders:   orders,
		provider: p,
		engine:   engine,
		idem:     idempotency.NewMemoryStore(),
		idemTTL:  idempotency.DefaultTTL,
		logger:   slog.Default(),
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = notification.LogDispatcher{Logger: c.logger}
	}
	return c
}
