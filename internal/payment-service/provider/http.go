package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

const (
	DefaultTimeout = 10 * time.Second
	circuitName    = "payment-provider"
)

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond paces outgoing calls; zero or less means unlimited.
	RequestsPerSecond float64
}

// HTTPProvider talks to a Stripe-style REST API. Calls go through a
// circuit breaker and a client-side rate limiter and are never retried.
type HTTPProvider struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Provider = (*HTTPProvider)(nil)

const statusRequiresPaymentMethod IntentStatus = "requires_payment_method"

type intentBody struct {
	ID               string            `json:"id"`
	ClientSecret     string            `json:"client_secret"`
	Status           string            `json:"status"`
	LastPaymentError *paymentErrorBody `json:"last_payment_error,omitempty"`
}

type paymentErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error paymentErrorBody `json:"error"`
}

type createIntentBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func NewHTTPProvider(cfg HTTPConfig, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond) + 1
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0). // the caller decides whether to retry
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &HTTPProvider{
		client:  client,
		breaker: newBreaker(logger),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	metrics.CircuitBreakerState.WithLabelValues(circuitName).Set(0)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        circuitName,
		MaxRequests: 3,                // Max requests allowed in half-open state
		Interval:    15 * time.Second, // Window to track failures
		Timeout:     30 * time.Second, // Time to wait before half-open
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			state := float64(0)
			switch to {
			case gobreaker.StateOpen:
				state = 1
			case gobreaker.StateHalfOpen:
				state = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
			logger.Info("circuit breaker state changed",
				"circuit", name, "from", from.String(), "to", to.String())
		},
	})
}

// declined is returned from inside the breaker for a well-formed decline so
// that declines do not count as provider failures.
type declined struct {
	reason string
}

func (p *HTTPProvider) call(ctx context.Context, fn func() (*resty.Response, error)) (*resty.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &apperr.PaymentProviderError{Err: err}
	}

	out, err := p.breaker.Execute(func() (interface{}, error) {
		resp, err := fn()
		if err != nil {
			return nil, fmt.Errorf("HTTP error: %w", err)
		}
		switch {
		case resp.StatusCode() == http.StatusPaymentRequired:
			return declined{reason: declineReason(resp)}, nil
		case resp.StatusCode() == http.StatusNotFound:
			return resp, nil
		case resp.StatusCode() >= 500:
			return nil, fmt.Errorf("payment provider returned status %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("circuit breaker %s is open: %w", circuitName, err)
		}
		return nil, &apperr.PaymentProviderError{Err: err}
	}
	if d, ok := out.(declined); ok {
		return nil, &apperr.PaymentProviderError{Declined: true, Reason: d.reason}
	}

	resp := out.(*resty.Response)
	if resp.IsError() {
		return resp, &apperr.PaymentProviderError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode(), declineReason(resp))}
	}
	return resp, nil
}

func declineReason(resp *resty.Response) string {
	if env, ok := resp.Error().(*errorEnvelope); ok && env != nil {
		if env.Error.Code != "" {
			return env.Error.Code
		}
		return env.Error.Message
	}
	return ""
}

func (p *HTTPProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	var body intentBody
	_, err := p.call(ctx, func() (*resty.Response, error) {
		r := p.client.R().
			SetContext(ctx).
			SetBody(createIntentBody{Amount: req.AmountMinor, Currency: req.Currency, Metadata: req.Metadata}).
			SetResult(&body).
			SetError(&errorEnvelope{})
		if req.IdempotencyKey != "" {
			r.SetHeader("Idempotency-Key", req.IdempotencyKey)
		}
		return r.Post("/v1/payment_intents")
	})
	if err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "payment intent created",
		"intent_id", body.ID, "amount_minor", req.AmountMinor, "currency", req.Currency)
	return &Intent{ID: body.ID, ClientSecret: body.ClientSecret, Status: IntentStatus(body.Status)}, nil
}

func (p *HTTPProvider) Confirm(ctx context.Context, intentID string) (*Confirmation, error) {
	var body intentBody
	resp, err := p.call(ctx, func() (*resty.Response, error) {
		return p.client.R().
			SetContext(ctx).
			SetPathParam("id", intentID).
			SetResult(&body).
			SetError(&errorEnvelope{}).
			Post("/v1/payment_intents/{id}/confirm")
	})
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return nil, &apperr.NotFoundError{Resource: "payment intent", Key: intentID}
	}
	var perr *apperr.PaymentProviderError
	if errors.As(err, &perr) && perr.Declined {
		return &Confirmation{IntentID: intentID, Status: StatusFailed, Reason: perr.Reason}, nil
	}
	if err != nil {
		return nil, err
	}

	c := &Confirmation{IntentID: intentID, Status: IntentStatus(body.Status)}
	if body.LastPaymentError != nil {
		c.Reason = body.LastPaymentError.Code
		if c.Reason == "" {
			c.Reason = body.LastPaymentError.Message
		}
	}
	if c.Status == statusRequiresPaymentMethod {
		c.Status = StatusFailed
	}
	return c, nil
}

func (p *HTTPProvider) Cancel(ctx context.Context, intentID string) error {
	_, err := p.call(ctx, func() (*resty.Response, error) {
		return p.client.R().
			SetContext(ctx).
			SetPathParam("id", intentID).
			SetError(&errorEnvelope{}).
			Post("/v1/payment_intents/{id}/cancel")
	})
	return err
}

func (p *HTTPProvider) Retrieve(ctx context.Context, intentID string) (*Intent, error) {
	var body intentBody
	resp, err := p.call(ctx, func() (*resty.Response, error) {
		return p.client.R().
			SetContext(ctx).
			SetPathParam("id", intentID).
			SetResult(&body).
			SetError(&errorEnvelope{}).
			Get("/v1/payment_intents/{id}")
	})
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return nil, &apperr.NotFoundError{Resource: "payment intent", Key: intentID}
	}
	if err != nil {
		return nil, err
	}
	status := IntentStatus(body.Status)
	if status == statusRequiresPaymentMethod {
		// A fresh intent also sits here; only a recorded attempt means a decline.
		status = StatusRequiresConfirmation
		if body.LastPaymentError != nil {
			status = StatusFailed
		}
	}
	return &Intent{ID: body.ID, ClientSecret: body.ClientSecret, Status: status}, nil
}
