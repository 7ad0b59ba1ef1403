package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jcmexdev/storefront-checkout/internal/api-gateway/infra/httpx/middlewares"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

const serviceName = "checkout-api"

// NewRouter wires every route. apiLimiter may be nil to disable the
// per-IP limit on /api.
func NewRouter(handler *Handler, apiLimiter middlewares.Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.AttachTracingMetadata)
	r.Use(metrics.Middleware(serviceName))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if apiLimiter != nil {
			r.Use(middlewares.RateLimitByIP(apiLimiter))
		}

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/quote", handler.Quote)
			r.Post("/payment-intents", handler.CreatePaymentIntent)
			r.Post("/payment-intents/{intentID}/confirm", handler.ConfirmPaymentIntent)
		})
		r.Post("/webhooks/payment", handler.PaymentWebhook)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", handler.ListOrders)
			r.Get("/stats", handler.OrderStats)
			r.Get("/by-payment/{ref}", handler.GetOrderByPaymentReference)
			r.Get("/{id}", handler.GetOrderByID)
			r.Get("/{id}/items", handler.GetOrderItems)
			r.Patch("/{id}/status", handler.UpdateOrderStatus)
		})

		r.Get("/users/{userID}/orders", handler.ListUserOrders)

		r.Route("/auth/rate-limit", func(r chi.Router) {
			r.Post("/check", handler.CheckRateLimit)
			r.Post("/success", handler.RecordRateLimitSuccess)
			r.Get("/status", handler.RateLimitStatus)
		})
	})
	return r
}
