package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors"
	"github.com/jcmexdev/storefront-checkout/internal/ratelimit"
)

type stubChecker struct {
	decision ratelimit.Decision
	err      error
	seen     []string
}

func (s *stubChecker) Check(_ context.Context, identifier string, action ratelimit.Action) (ratelimit.Decision, error) {
	s.seen = append(s.seen, string(action)+":"+identifier)
	return s.decision, s.err
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitByIP(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		c := &stubChecker{decision: ratelimit.Decision{Allowed: true, Remaining: 59, ResetTime: time.Now().Add(time.Minute)}}
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.RemoteAddr = "203.0.113.7:5123"
		rec := httptest.NewRecorder()

		RateLimitByIP(c)(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, []string{"apiCall:203.0.113.7"}, c.seen)
	})

	t.Run("denied", func(t *testing.T) {
		c := &stubChecker{decision: ratelimit.Decision{Allowed: false, ResetTime: time.Now().Add(30 * time.Second), Message: "Too many API calls"}}
		rec := httptest.NewRecorder()

		RateLimitByIP(c)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "Too many API calls")
	})

	t.Run("store down fails open", func(t *testing.T) {
		c := &stubChecker{err: errors.New("redis: connection refused")}
		rec := httptest.NewRecorder()

		RateLimitByIP(c)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAttachTracingMetadata(t *testing.T) {
	var gotKey string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = interceptors.IdempotencyKeyFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/payment-intents", nil)
	req.Header.Set("Idempotency-Key", "cart-42")
	rec := httptest.NewRecorder()

	middleware.RequestID(AttachTracingMetadata(next)).ServeHTTP(rec, req)

	require.Equal(t, "cart-42", gotKey)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}
