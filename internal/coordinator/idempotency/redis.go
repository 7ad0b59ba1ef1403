package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
)

// RedisStore shares reservations across instances with SETNX.
type RedisStore struct {
	client *redis.Client
	keys   cache.Keyspace
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, keys cache.Keyspace) *RedisStore {
	return &RedisStore{client: client, keys: keys, now: time.Now}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) redisKey(key string) string {
	return s.keys.GenerateKey("idempotency", key)
}

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (*Record, bool, error) {
	rk := s.redisKey(key)
	raw, err := json.Marshal(Record{State: StateInFlight, CreatedAt: s.now().UTC()})
	if err != nil {
		return nil, false, err
	}

	ok, err := s.client.SetNX(ctx, rk, raw, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: reserve %s: %w", key, err)
	}
	if ok {
		return nil, true, nil
	}

	existing, err := s.client.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = s.client.SetNX(ctx, rk, raw, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("idempotency: reserve %s: %w", key, err)
		}
		if ok {
			return nil, true, nil
		}
		existing, err = s.client.Get(ctx, rk).Bytes()
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: read %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal(existing, &rec); err != nil {
		return nil, false, fmt.Errorf("idempotency: decode %s: %w", key, err)
	}
	return &rec, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	raw, err := json.Marshal(Record{State: StateCompleted, Result: result, CreatedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.redisKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: complete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release %s: %w", key, err)
	}
	return nil
}
