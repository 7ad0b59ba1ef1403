// Package provider defines the payment provider capability the checkout
// coordinator depends on, with an in-process mock and an HTTP adapter.
package provider

import (
	"context"
)

// IntentStatus is the provider-side state of a payment intent.
type IntentStatus string

const (
	StatusRequiresConfirmation IntentStatus = "requires_confirmation"
	StatusProcessing           IntentStatus = "processing"
	StatusSucceeded            IntentStatus = "succeeded"
	StatusFailed               IntentStatus = "failed"
	StatusCanceled             IntentStatus = "canceled"
)

// IntentRequest asks the provider for a new intent. AmountMinor is in the
// currency's minor unit (cents).
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
}

// Confirmation is the outcome of confirming an intent. Reason is set when
// Status is failed.
type Confirmation struct {
	IntentID string
	Status   IntentStatus
	Reason   string
}

// Provider is implemented by every payment backend. Errors are
// *apperr.PaymentProviderError; implementations never retry internally.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Confirm(ctx context.Context, intentID string) (*Confirmation, error)
	Cancel(ctx context.Context, intentID string) error
	Retrieve(ctx context.Context, intentID string) (*Intent, error)
}
