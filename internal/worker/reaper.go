// Package worker holds background jobs that run next to the checkout API.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/order-service/app"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

const defaultBatchSize = 100

// PendingLister lists orders, see app.Manager.ListOrders.
type PendingLister interface {
	ListOrders(ctx context.Context, q app.ListQuery) ([]domain.Order, error)
}

// Reconciler resolves one stale order, see coordinator.Coordinator.Reconcile.
type Reconciler interface {
	Reconcile(ctx context.Context, order *domain.Order) (string, error)
}

// Reaper periodically resolves pending orders left behind by abandoned checkouts.
type Reaper struct {
	orders     PendingLister
	reconciler Reconciler
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
}

type ReaperOption func(*Reaper)

func WithBatchSize(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(r *Reaper) { r.logger = logger }
}

func NewReaper(orders PendingLister, reconciler Reconciler, interval, staleAfter time.Duration, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		orders:     orders,
		reconciler: reconciler,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  defaultBatchSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run ticks until ctx is done. The first sweep runs immediately.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "reaper started", "interval", r.interval, "stale_after", r.staleAfter)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "reaper sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps one batch and returns how many orders left the pending state.
// A failure on one order is logged and does not stop the sweep.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	stale, err := r.orders.ListOrders(ctx, app.ListQuery{
		Status:    domain.StatusPending,
		OlderThan: r.staleAfter,
		Limit:     r.batchSize,
	})
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range stale {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		order := &stale[i]
		resolution, err := r.reconciler.Reconcile(ctx, order)
		if err != nil {
			metrics.StalePendingReaped.WithLabelValues("error").Inc()
			r.logger.WarnContext(ctx, "could not reconcile stale order", "order_id", order.ID, "error", err)
			continue
		}
		metrics.StalePendingReaped.WithLabelValues(resolution).Inc()
		if resolution != "kept" {
			resolved++
			r.logger.InfoContext(ctx, "stale order resolved", "order_id", order.ID, "order_number", order.OrderNumber, "resolution", resolution)
		}
	}
	return resolved, nil
}
