// Package idempotency deduplicates checkout submissions. A key is reserved
// before any side effect, completed with the serialized result, and
// released again if the attempt failed so that the client may retry.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const DefaultTTL = 24 * time.Hour

type State string

const (
	StateInFlight  State = "in_flight"
	StateCompleted State = "completed"
)

// Record is what a store keeps per key.
type Record struct {
	State     State           `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is implemented by the in-memory and Redis backends.
type Store interface {
	// Reserve claims key for ttl. It returns claimed=true when the caller
	// now owns the key; otherwise it returns the existing record.
	Reserve(ctx context.Context, key string, ttl time.Duration) (existing *Record, claimed bool, err error)
	// Complete stores the result for a claimed key.
	Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error
	// Release drops the reservation.
	Release(ctx context.Context, key string) error
}

// Derive returns the idempotency key for a request: the client-supplied key
// when present, otherwise a SHA-256 digest of the canonical JSON encoding of
// parts. parts must encode deterministically (structs and sorted slices).
func Derive(clientKey string, parts any) (string, error) {
	if k := strings.TrimSpace(clientKey); k != "" {
		return "client:" + digest([]byte(k)), nil
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("idempotency: encode request: %w", err)
	}
	return "derived:" + digest(raw), nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
