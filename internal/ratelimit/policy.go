package ratelimit

import "time"

// Action names a guarded operation.
type Action string

const (
	ActionLogin             Action = "login"
	ActionPasswordReset     Action = "passwordReset"
	ActionRegistration      Action = "registration"
	ActionEmailVerification Action = "emailVerification"
	ActionAPICall           Action = "apiCall"
)

// Policy is the per-action limit.
type Policy struct {
	Window time.Duration
	Max    int
	// SkipSuccessful clears the entry when the guarded action succeeds.
	SkipSuccessful bool
	// Progressive blocks the identifier for an escalating period on every
	// breach instead of denying until the window resets.
	Progressive bool
	Message     string
}

const (
	maxBlockDuration  = 24 * time.Hour
	baseBlockDuration = 5 * time.Minute
	// strikes survive window resets until the key has been idle this long
	strikeRetention = 24 * time.Hour
)

// DefaultPolicies returns a fresh copy of the built-in policy table.
func DefaultPolicies() map[Action]Policy {
	return map[Action]Policy{
		ActionLogin: {
			Window:         15 * time.Minute,
			Max:            5,
			SkipSuccessful: true,
			Progressive:    true,
			Message:        "Too many login attempts, please try again later",
		},
		ActionPasswordReset: {
			Window:  time.Hour,
			Max:     3,
			Message: "Too many password reset requests",
		},
		ActionRegistration: {
			Window:  time.Hour,
			Max:     3,
			Message: "Too many registration attempts",
		},
		ActionEmailVerification: {
			Window:         time.Hour,
			Max:            5,
			SkipSuccessful: true,
			Message:        "Too many email verification attempts",
		},
		ActionAPICall: {
			Window:  time.Minute,
			Max:     60,
			Message: "Too many API calls",
		},
	}
}

// blockDuration is min(3^(count-4) * 5m, 24h), where count is the attempt
// count the breach would have reached without the block.
func blockDuration(count int) time.Duration {
	exp := count - 4
	if exp < 0 {
		exp = 0
	}
	d := baseBlockDuration
	for i := 0; i < exp; i++ {
		d *= 3
		if d >= maxBlockDuration {
			return maxBlockDuration
		}
	}
	return d
}
