// Package bootstrap builds the checkout object graph from config. Both
// binaries share it so the API and the reaper always agree on stores.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator/idempotency"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog"
	sagalogsqlite "github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog/sqlite"
	"github.com/jcmexdev/storefront-checkout/internal/notification"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/adapters/memory"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/adapters/postgres"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/adapters/sqlite"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/app"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/payment-service/provider"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/config"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/sqlitedb"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
	"github.com/jcmexdev/storefront-checkout/internal/ratelimit"
)

const keyspaceName = "checkout"

// App is the wired service. Close releases every connection it opened.
type App struct {
	Orders      *app.Manager
	Coordinator *coordinator.Coordinator
	Limiter     *ratelimit.Limiter
	Notifier    *notification.Async

	// MemoryLimits is set when rate limits live in process memory and
	// need periodic cleanup.
	MemoryLimits *ratelimit.MemoryStore

	closers []func() error
	logger  *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	if err := a.build(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	store, err := a.orderStore(ctx, cfg)
	if err != nil {
		return err
	}

	sagaLog, err := a.sagaLog(cfg)
	if err != nil {
		return err
	}

	engine, err := a.pricingEngine(cfg)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rdb.Close)
	}
	keys := cache.NewKeyspace(keyspaceName)

	var limits ratelimit.Store
	var idem idempotency.Store
	if rdb != nil {
		limits = ratelimit.NewRedisStore(rdb, keys)
		idem = idempotency.NewRedisStore(rdb, keys)
	} else {
		a.MemoryLimits = ratelimit.NewMemoryStore()
		limits = a.MemoryLimits
		idem = idempotency.NewMemoryStore()
		a.logger.Warn("REDIS_ADDR not set, rate limits and idempotency keys are per-process")
	}
	a.Limiter = ratelimit.New(limits, ratelimit.WithLogger(a.logger))

	a.Orders = app.NewManager(store,
		app.WithOrderNumberPrefix(cfg.OrderNumberPrefix),
		app.WithSagaLog(sagaLog),
		app.WithLogger(a.logger),
	)

	var next notification.Dispatcher = notification.LogDispatcher{Logger: a.logger}
	if cfg.NotifyWebhookURL != "" {
		next = notification.NewWebhookDispatcher(cfg.NotifyWebhookURL, 5*time.Second)
	}
	a.Notifier = notification.NewAsync(next, a.logger)

	a.Coordinator = coordinator.New(a.Orders, a.paymentProvider(cfg), engine,
		coordinator.WithIdempotencyStore(idem, cfg.IdempotencyTTL),
		coordinator.WithNotifier(a.Notifier),
		coordinator.WithSagaLog(sagaLog),
		coordinator.WithLogger(a.logger),
	)
	return nil
}

func (a *App) orderStore(ctx context.Context, cfg *config.Config) (domain.Store, error) {
	switch cfg.OrderStore {
	case config.StoreSQLite:
		db, err := sqlitedb.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return sqlite.New(db)
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		s := postgres.New(db)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		a.logger.Warn("using in-memory order store, orders are lost on restart")
		return memory.NewStore(), nil
	}
}

func (a *App) sagaLog(cfg *config.Config) (sagalog.Repository, error) {
	if cfg.SagaLogPath == "" {
		return sagalog.NewMemoryRepository(), nil
	}
	repo, err := sagalogsqlite.Open(cfg.SagaLogPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)
	return repo, nil
}

func (a *App) pricingEngine(cfg *config.Config) (*pricing.Engine, error) {
	if cfg.TaxRulesFile == "" {
		return pricing.NewEngine(pricing.DefaultRules()), nil
	}
	rules, err := pricing.LoadTaxRules(cfg.TaxRulesFile)
	if err != nil {
		return nil, err
	}
	a.logger.Info("tax rules loaded", "file", cfg.TaxRulesFile, "countries", len(rules.Countries()))
	return pricing.NewEngine(rules), nil
}

func (a *App) paymentProvider(cfg *config.Config) provider.Provider {
	if cfg.PaymentProvider == config.ProviderHTTP {
		return provider.NewHTTPProvider(provider.HTTPConfig{
			BaseURL:           cfg.PaymentAPIURL,
			APIKey:            cfg.PaymentAPIKey,
			Timeout:           cfg.PaymentTimeout,
			RequestsPerSecond: cfg.PaymentRPS,
		}, a.logger)
	}
	a.logger.Warn("using mock payment provider", "decline_above_minor", cfg.DeclineAbove)
	return provider.NewMock(cfg.DeclineAbove, a.logger)
}

// Close waits for pending notifications, then closes connections in
// reverse order of opening.
func (a *App) Close() error {
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("bootstrap: close: %w", errors.Join(errs...))
	}
	return nil
}
