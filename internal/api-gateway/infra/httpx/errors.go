package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/ratelimit"
)

const genericCheckoutFailure = "payment initialization failed, please retry"

// writeAppError maps the error taxonomy onto HTTP responses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *apperr.ValidationError
		nf    *apperr.NotFoundError
		rl    *apperr.RateLimitExceeded
		perr  *apperr.PaymentProviderError
		pserr *apperr.PersistenceError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "validation_failed", Message: "request validation failed", Fields: verr.Fields,
		})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, "not_found", nf.Error())
	case errors.Is(err, apperr.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, apperr.ErrCheckoutInProgress):
		writeError(w, http.StatusConflict, "checkout_in_progress", "checkout already in progress")
	case errors.Is(err, domain.ErrStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", "order was modified concurrently, please retry")
	case errors.As(err, &rl):
		writeRateLimited(w, rl)
	case errors.As(err, &perr) && perr.Declined:
		writeError(w, http.StatusPaymentRequired, "payment_declined", perr.Error())
	case errors.As(err, &perr):
		slog.WarnContext(r.Context(), "payment provider error", "error", err)
		writeError(w, http.StatusBadGateway, "payment_provider_unavailable", "payment provider unavailable, please retry")
	case errors.As(err, &pserr):
		slog.ErrorContext(r.Context(), "checkout persistence failure", "op", pserr.Op, "error", err)
		writeError(w, http.StatusInternalServerError, "payment_initialization_failed", genericCheckoutFailure)
	case errors.Is(err, ratelimit.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "unknown_action", err.Error())
	default:
		slog.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeRateLimited(w http.ResponseWriter, rl *apperr.RateLimitExceeded) {
	retry := rl.RetryAfter(time.Now())
	w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
	remaining := rl.Remaining
	reset := rl.ResetTime.UTC()
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:     "rate_limited",
		Message:   rl.Error(),
		Remaining: &remaining,
		ResetTime: &reset,
	})
}
