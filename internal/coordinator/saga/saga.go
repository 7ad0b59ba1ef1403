// Package saga runs a sequence of steps and, when one fails, compensates the
// steps that already succeeded in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

// Step represents a single unit of work in the Saga.
// Each step must have a compensating action to undo its effects.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Error reports the step that failed and any compensation that could not be
// completed. It unwraps to the step error.
type Error struct {
	Step             string
	Err              error
	CompensationErrs []error
}

func (e *Error) Error() string {
	if len(e.CompensationErrs) == 0 {
		return fmt.Sprintf("saga step %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("saga step %s failed: %v (compensation failed: %v)",
		e.Step, e.Err, errors.Join(e.CompensationErrs...))
}

func (e *Error) Unwrap() error { return e.Err }

// Compensated reports whether every completed step was undone.
func (e *Error) Compensated() bool { return len(e.CompensationErrs) == 0 }

// Orchestrator manages the execution of a collection of Steps.
type Orchestrator struct {
	kind    string
	sagaID  string
	steps   []Step
	log     sagalog.Repository
	payload string
	logger  *slog.Logger
}

type Option func(*Orchestrator)

// WithLog persists every transition. A nil repository disables it.
func WithLog(repo sagalog.Repository) Option {
	return func(o *Orchestrator) { o.log = repo }
}

// WithPayload records the JSON input on the STARTED entry.
func WithPayload(payload string) Option {
	return func(o *Orchestrator) { o.payload = payload }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New builds an orchestrator. kind names the saga ("create_order",
// "checkout") and sagaID identifies this run in the log.
func New(kind, sagaID string, steps []Step, opts ...Option) *Orchestrator {
	o := &Orchestrator{kind: kind, sagaID: sagaID, steps: steps, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start runs the saga steps sequentially.
// If a step fails, it triggers the compensation of all previously successful steps.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.record(ctx, sagalog.StatusStarted, "", o.payload, nil)

	var successfulSteps []Step
	for _, step := range o.steps {
		o.logger.DebugContext(ctx, "executing saga step", "saga", o.kind, "saga_id", o.sagaID, "step", step.Name())
		if err := step.Execute(ctx); err != nil {
			o.logger.WarnContext(ctx, "saga step failed, starting rollback",
				"saga", o.kind, "saga_id", o.sagaID, "step", step.Name(), "error", err)
			o.record(ctx, sagalog.StatusCompensating, step.Name(), "", []string{err.Error()})

			sagaErr := &Error{Step: step.Name(), Err: err}
			sagaErr.CompensationErrs = o.rollback(ctx, successfulSteps)

			msgs := []string{fmt.Sprintf("step %s failed: %v", step.Name(), err)}
			for _, cerr := range sagaErr.CompensationErrs {
				msgs = append(msgs, cerr.Error())
			}
			o.record(ctx, sagalog.StatusFailed, step.Name(), "", msgs)
			return sagaErr
		}
		// Track successful step for potential compensation (LIFO)
		successfulSteps = append(successfulSteps, step)
		o.record(ctx, sagalog.StatusStepDone, step.Name(), "", nil)
	}

	o.record(ctx, sagalog.StatusCompleted, "", "", nil)
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, steps []Step) []error {
	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		o.logger.InfoContext(ctx, "compensating saga step", "saga", o.kind, "saga_id", o.sagaID, "step", step.Name())
		if err := step.Compensate(ctx); err != nil {
			o.logger.ErrorContext(ctx, "CRITICAL: failed to compensate saga step",
				"saga", o.kind, "saga_id", o.sagaID, "step", step.Name(), "error", err)
			metrics.SagaCompensations.WithLabelValues(step.Name(), "failed").Inc()
			errs = append(errs, fmt.Errorf("compensation of %s failed: %w", step.Name(), err))
			continue
		}
		metrics.SagaCompensations.WithLabelValues(step.Name(), "ok").Inc()
	}
	return errs
}

func (o *Orchestrator) record(ctx context.Context, status sagalog.Status, step, payload string, errs []string) {
	if o.log == nil {
		return
	}
	entry := sagalog.NewEntry(ctx, o.kind, o.sagaID, status, step, payload, errs)
	if err := o.log.Save(ctx, entry); err != nil {
		o.logger.WarnContext(ctx, "failed to write saga log", "saga", o.kind, "saga_id", o.sagaID, "status", status, "error", err)
	}
}
