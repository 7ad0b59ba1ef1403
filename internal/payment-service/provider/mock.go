package provider

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
)

type mockIntent struct {
	intent   Intent
	amount   int64
	outcome  IntentStatus
	reason   string
	metadata map[string]string
}

// Mock is an in-process provider. Intents above DeclineAbove minor units
// fail on confirmation; everything else succeeds unless overridden with
// SetOutcome.
type Mock struct {
	// DeclineAbove is the amount in minor units above which confirmation
	// is declined. Zero disables declines.
	DeclineAbove int64

	mu      sync.Mutex
	intents map[string]*mockIntent
	byKey   map[string]string
	failNew error
	logger  *slog.Logger
}

func NewMock(declineAbove int64, logger *slog.Logger) *Mock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mock{
		DeclineAbove: declineAbove,
		intents:      make(map[string]*mockIntent),
		byKey:        make(map[string]string),
		logger:       logger,
	}
}

var _ Provider = (*Mock)(nil)

func (m *Mock) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNew != nil {
		return nil, &apperr.PaymentProviderError{Err: m.failNew}
	}
	if req.IdempotencyKey != "" {
		if id, ok := m.byKey[req.IdempotencyKey]; ok {
			in := m.intents[id].intent
			return &in, nil
		}
	}

	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	mi := &mockIntent{
		intent: Intent{
			ID:           id,
			ClientSecret: id + "_secret_" + uuid.NewString()[:8],
			Status:       StatusRequiresConfirmation,
		},
		amount:   req.AmountMinor,
		metadata: req.Metadata,
	}
	m.intents[id] = mi
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = id
	}

	m.logger.InfoContext(ctx, "[Payment] intent created",
		"intent_id", id, "amount_minor", req.AmountMinor, "currency", req.Currency)
	in := mi.intent
	return &in, nil
}

func (m *Mock) Confirm(ctx context.Context, intentID string) (*Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mi, ok := m.intents[intentID]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "payment intent", Key: intentID}
	}

	switch mi.intent.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return &Confirmation{IntentID: intentID, Status: mi.intent.Status, Reason: mi.reason}, nil
	}

	switch {
	case mi.outcome != "":
		mi.intent.Status = mi.outcome
	case m.DeclineAbove > 0 && mi.amount > m.DeclineAbove:
		mi.intent.Status = StatusFailed
		mi.reason = "card_declined"
		m.logger.InfoContext(ctx, "[Payment] declined: amount exceeds limit",
			"intent_id", intentID, "amount_minor", mi.amount)
	default:
		mi.intent.Status = StatusSucceeded
	}
	return &Confirmation{IntentID: intentID, Status: mi.intent.Status, Reason: mi.reason}, nil
}

func (m *Mock) Cancel(ctx context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mi, ok := m.intents[intentID]
	if !ok {
		m.logger.WarnContext(ctx, "[Payment] no intent found to cancel", "intent_id", intentID)
		return nil
	}
	if mi.intent.Status == StatusSucceeded {
		return &apperr.PaymentProviderError{Reason: "intent already succeeded"}
	}
	mi.intent.Status = StatusCanceled
	return nil
}

func (m *Mock) Retrieve(_ context.Context, intentID string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi, ok := m.intents[intentID]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "payment intent", Key: intentID}
	}
	in := mi.intent
	return &in, nil
}

// SetOutcome forces the status the next confirmation of intentID yields.
func (m *Mock) SetOutcome(intentID string, status IntentStatus, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi, ok := m.intents[intentID]; ok {
		mi.outcome = status
		mi.reason = reason
	}
}

// FailCreate makes every following CreateIntent fail with a network-style
// error until called again with nil.
func (m *Mock) FailCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNew = err
}

// Metadata returns the metadata an intent was created with.
func (m *Mock) Metadata(intentID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi, ok := m.intents[intentID]; ok {
		return mi.metadata
	}
	return nil
}
