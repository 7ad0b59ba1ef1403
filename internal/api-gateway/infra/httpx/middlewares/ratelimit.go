package middlewares

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/ratelimit"
)

// Checker is the part of the rate limiter the middleware needs.
type Checker interface {
	Check(ctx context.Context, identifier string, action ratelimit.Action) (ratelimit.Decision, error)
}

// RateLimitByIP applies the apiCall policy per client address. It fails open
// when the limiter's store is unavailable.
func RateLimitByIP(limiter Checker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Check(r.Context(), clientIP(r), ratelimit.ActionAPICall)
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
			if !d.Allowed {
				retry := time.Until(d.ResetTime)
				if retry < time.Second {
					retry = time.Second
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":      "rate_limited",
					"message":    d.Message,
					"remaining":  d.Remaining,
					"reset_time": d.ResetTime.UTC(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP expects middleware.RealIP to have normalised RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
