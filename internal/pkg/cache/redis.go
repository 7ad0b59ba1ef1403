// Package cache builds the shared Redis client and namespaces its keys so the
// rate limiter and the idempotency store can share one instance.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keyspace prefixes keys with the owning service and operation.
type Keyspace struct {
	serviceName string
}

func NewKeyspace(serviceName string) Keyspace {
	return Keyspace{serviceName: serviceName}
}

// GenerateKey returns "<service>:<operation>:<key>".
func (k Keyspace) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", k.serviceName, operation, key)
}

// NewRedisClient connects to addr and verifies the connection with a PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// TTLUntil converts an absolute expiry into a Redis TTL, never shorter
// than one second.
func TTLUntil(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
