// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "route", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)

	// OrdersTotal counts order status changes by resulting status
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_orders_total",
			Help: "Total number of orders reaching each status",
		},
		[]string{"status"},
	)

	// PaymentIntents counts payment intent attempts by outcome
	PaymentIntents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_payment_intents_total",
			Help: "Total number of payment intent requests by outcome",
		},
		[]string{"outcome"},
	)

	// SagaCompensations counts compensations per saga step
	SagaCompensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_saga_compensations_total",
			Help: "Total number of saga step compensations",
		},
		[]string{"step", "result"},
	)

	// RateLimitDecisions counts rate limiter decisions
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of rate limit decisions",
		},
		[]string{"action", "outcome"},
	)

	// CircuitBreakerState tracks circuit breaker state (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payment_provider_circuit_state",
			Help: "Payment provider circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"circuit_name"},
	)

	// StalePendingReaped counts pending orders resolved by the reaper
	StalePendingReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_reaper_orders_total",
			Help: "Total number of stale pending orders resolved by the reaper",
		},
		[]string{"resolution"},
	)
)

// Middleware records request count and latency labelled by the matched chi
// route pattern, so path parameters do not explode label cardinality.
func Middleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			RequestsTotal.WithLabelValues(serviceName, r.Method, route, strconv.Itoa(status)).Inc()
			RequestDuration.WithLabelValues(serviceName, r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
