// Package sagalog keeps an append-only audit trail of saga transitions.
//
// Each row is a point-in-time snapshot tagged with the trace that produced
// it, so a failed checkout can be followed from the log into the
// distributed trace.
package sagalog

import "time"

// Status represents the lifecycle state of a saga execution.
type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusStepDone     Status = "STEP_DONE"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusFailed       Status = "FAILED"
)

// SagaLog is a single row in the saga_logs table.
type SagaLog struct {
	// Kind names the saga, e.g. "create_order" or "checkout".
	Kind string

	// SagaID is the order id for create_order runs and the idempotency key
	// for checkout runs.
	SagaID string

	Status Status

	// CurrentStep is the step that just completed or failed.
	CurrentStep string

	// Payload is the JSON input, written only on STARTED. It never contains
	// client secrets or passwords.
	Payload string

	// ErrorMessages is a JSON array of failure details.
	ErrorMessages string

	TraceID   string
	SpanID    string
	UpdatedAt time.Time
}
