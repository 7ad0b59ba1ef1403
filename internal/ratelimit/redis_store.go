package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
)

const maxWatchRetries = 25

// ErrContention is returned when optimistic retries are exhausted.
var ErrContention = errors.New("ratelimit: too much contention on key")

// RedisStore shares entries across instances. Update runs a WATCH/MULTI
// transaction and retries when another client touched the key in between.
type RedisStore struct {
	client *redis.Client
	keys   cache.Keyspace
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, keys cache.Keyspace) *RedisStore {
	return &RedisStore{client: client, keys: keys, now: time.Now}
}

func (s *RedisStore) redisKey(key string) string {
	return s.keys.GenerateKey("ratelimit", key)
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	rk := s.redisKey(key)

	txf := func(tx *redis.Tx) error {
		current, err := readEntry(ctx, tx, rk)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, rk)
				return nil
			}
			raw, err := json.Marshal(next)
			if err != nil {
				return err
			}
			pipe.Set(ctx, rk, raw, cache.TTLUntil(next.ExpiresAt, s.now()))
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, rk)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("ratelimit: redis update %s: %w", key, err)
	}
	return ErrContention
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	return readEntry(ctx, s.client, s.redisKey(key))
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	rks := make([]string, len(keys))
	for i, k := range keys {
		rks[i] = s.redisKey(k)
	}
	return s.client.Del(ctx, rks...).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readEntry(ctx context.Context, c getter, rk string) (*Entry, error) {
	raw, err := c.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("ratelimit: decode entry %s: %w", rk, err)
	}
	return &e, nil
}
