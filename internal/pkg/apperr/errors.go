// Package apperr holds the error taxonomy shared by the checkout core and the
// HTTP layer. Every type works with errors.As, and the sentinel values with
// errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidTransition is returned when a status change is not in the
	// order transition table.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrCheckoutInProgress is returned for a duplicate checkout submitted
	// while the first one is still running.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeMissingField      = "missing_field"
	CodeInvalidPostalCode = "invalid_postal_code"
	CodeInvalidCountry    = "invalid_country"
	CodeInvalidValue      = "invalid_value"
)

// ValidationError carries per-field detail for a malformed address, cart or request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error.
func (e *ValidationError) Add(field, code, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code, Message: message})
}

// Merge appends all fields of other.
func (e *ValidationError) Merge(fields []FieldError) {
	e.Fields = append(e.Fields, fields...)
}

// OrNil returns nil when no field failed, so callers can write
// `return v.OrNil()` without the typed-nil trap.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// RateLimitExceeded is deliberately generic: it never says whether the
// identifier belongs to an existing account.
type RateLimitExceeded struct {
	Action    string
	Remaining int
	ResetTime time.Time
	Message   string
}

func (e *RateLimitExceeded) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "too many requests, please try again later"
}

// RetryAfter returns the wait until ResetTime, rounded up to whole seconds.
func (e *RateLimitExceeded) RetryAfter(now time.Time) time.Duration {
	d := e.ResetTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second) + time.Second
}

// PaymentProviderError is a network failure or a decline from the payment provider.
type PaymentProviderError struct {
	Declined bool
	Reason   string
	Err      error
}

func (e *PaymentProviderError) Error() string {
	switch {
	case e.Declined && e.Reason != "":
		return "payment declined: " + e.Reason
	case e.Declined:
		return "payment declined"
	case e.Err != nil:
		return "payment provider unavailable: " + e.Err.Error()
	default:
		return "payment provider error: " + e.Reason
	}
}

func (e *PaymentProviderError) Unwrap() error { return e.Err }

// PersistenceError is a store failure during order or item writes.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotFoundError is an unknown order id or payment reference.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
