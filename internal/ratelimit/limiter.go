// Package ratelimit guards sensitive account actions with a fixed window
// counter per (action, identifier) and a progressive lockout for logins.
//
// Decisions never depend on whether the identifier belongs to an existing
// account, so callers can return them verbatim without leaking that fact.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

// ErrUnknownAction is returned for an action without a policy.
var ErrUnknownAction = errors.New("ratelimit: unknown action")

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	Message   string
	action    Action
}

// Err returns a RateLimitExceeded for a denied decision, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &apperr.RateLimitExceeded{
		Action:    string(d.action),
		Remaining: d.Remaining,
		ResetTime: d.ResetTime,
		Message:   d.Message,
	}
}

// Status is a read-only view of an entry.
type Status struct {
	Count        int
	Remaining    int
	ResetTime    time.Time
	Blocked      bool
	BlockedUntil time.Time
}

type Limiter struct {
	store    Store
	policies map[Action]Policy
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPolicies replaces the default policy table.
func WithPolicies(p map[Action]Policy) Option {
	return func(l *Limiter) { l.policies = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: DefaultPolicies(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the policy for action.
func (l *Limiter) Policy(action Action) (Policy, bool) {
	p, ok := l.policies[action]
	return p, ok
}

// Check records one attempt of action by identifier and decides whether it
// may proceed.
func (l *Limiter) Check(ctx context.Context, identifier string, action Action) (Decision, error) {
	policy, ok := l.policies[action]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	now := l.now()
	var d Decision
	err := l.store.Update(ctx, key(action, identifier), func(cur *Entry) (*Entry, error) {
		next, decision := step(cur, policy, now)
		d = decision
		return next, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: check %s: %w", action, err)
	}
	d.action = action
	if !d.Allowed {
		d.Message = policy.Message
		l.logger.WarnContext(ctx, "rate limit exceeded",
			"action", string(action),
			"reset_time", d.ResetTime,
		)
	}

	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	metrics.RateLimitDecisions.WithLabelValues(string(action), outcome).Inc()
	return d, nil
}

// step is the per-key state machine.
func step(cur *Entry, p Policy, now time.Time) (*Entry, Decision) {
	if cur != nil && !cur.ExpiresAt.After(now) {
		cur = nil
	}
	if cur == nil {
		e := freshWindow(now, p, 0)
		return e, Decision{Allowed: true, Remaining: p.Max - 1, ResetTime: e.WindowResetAt}
	}

	e := *cur
	if p.Progressive && now.Sub(e.LastSeen) >= strikeRetention {
		e.Strikes = 0
	}

	switch {
	case e.Blocked && now.Before(e.BlockedUntil):
		return &e, Decision{Allowed: false, Remaining: 0, ResetTime: e.BlockedUntil}

	case e.Blocked || !now.Before(e.WindowResetAt):
		fresh := freshWindow(now, p, e.Strikes)
		return fresh, Decision{Allowed: true, Remaining: p.Max - 1, ResetTime: fresh.WindowResetAt}

	case e.Count >= p.Max:
		e.LastSeen = now
		if !p.Progressive {
			e.ExpiresAt = expiry(&e, p)
			return &e, Decision{Allowed: false, Remaining: 0, ResetTime: e.WindowResetAt}
		}
		e.Blocked = true
		e.BlockedUntil = now.Add(blockDuration(p.Max + e.Strikes))
		e.Strikes++
		e.ExpiresAt = expiry(&e, p)
		return &e, Decision{Allowed: false, Remaining: 0, ResetTime: e.BlockedUntil}

	default:
		e.Count++
		e.LastSeen = now
		e.ExpiresAt = expiry(&e, p)
		return &e, Decision{Allowed: true, Remaining: p.Max - e.Count, ResetTime: e.WindowResetAt}
	}
}

func freshWindow(now time.Time, p Policy, strikes int) *Entry {
	e := &Entry{
		Count:         1,
		WindowResetAt: now.Add(p.Window),
		Strikes:       strikes,
		LastSeen:      now,
	}
	e.ExpiresAt = expiry(e, p)
	return e
}

func expiry(e *Entry, p Policy) time.Time {
	exp := e.WindowResetAt
	if e.Blocked && e.BlockedUntil.After(exp) {
		exp = e.BlockedUntil
	}
	if p.Progressive && e.Strikes > 0 {
		if keep := e.LastSeen.Add(strikeRetention); keep.After(exp) {
			exp = keep
		}
	}
	return exp
}

// RecordSuccess clears the entry for policies marked SkipSuccessful so that
// earlier failures do not count against the next attempt.
func (l *Limiter) RecordSuccess(ctx context.Context, identifier string, action Action) error {
	policy, ok := l.policies[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !policy.SkipSuccessful {
		return nil
	}
	if err := l.store.Delete(ctx, key(action, identifier)); err != nil {
		return fmt.Errorf("ratelimit: record success %s: %w", action, err)
	}
	return nil
}

// Status reports the current state without recording an attempt.
func (l *Limiter) Status(ctx context.Context, identifier string, action Action) (Status, error) {
	policy, ok := l.policies[action]
	if !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	e, err := l.store.Get(ctx, key(action, identifier))
	if err != nil {
		return Status{}, fmt.Errorf("ratelimit: status %s: %w", action, err)
	}

	now := l.now()
	if e == nil || !e.ExpiresAt.After(now) || (!e.Blocked && !now.Before(e.WindowResetAt)) {
		return Status{Remaining: policy.Max, ResetTime: now.Add(policy.Window)}, nil
	}
	if e.Blocked {
		if now.Before(e.BlockedUntil) {
			return Status{Count: e.Count, Blocked: true, BlockedUntil: e.BlockedUntil, ResetTime: e.BlockedUntil}, nil
		}
		return Status{Remaining: policy.Max, ResetTime: now.Add(policy.Window)}, nil
	}
	remaining := policy.Max - e.Count
	if remaining < 0 {
		remaining = 0
	}
	return Status{Count: e.Count, Remaining: remaining, ResetTime: e.WindowResetAt}, nil
}

// ClearForIdentifier removes the entries of every action for identifier.
func (l *Limiter) ClearForIdentifier(ctx context.Context, identifier string) error {
	keys := make([]string, 0, len(l.policies))
	for action := range l.policies {
		keys = append(keys, key(action, identifier))
	}
	if err := l.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("ratelimit: clear: %w", err)
	}
	return nil
}

// key hashes the identifier so emails and IPs are not stored in clear text.
func key(action Action, identifier string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identifier))))
	return string(action) + ":" + hex.EncodeToString(sum[:16])
}
