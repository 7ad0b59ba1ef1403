package idempotency

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
)

type request struct {
	Email string   `json:"email"`
	Items []string `json:"items"`
}

func TestDerive(t *testing.T) {
	a, err := Derive("", request{Email: "a@example.com", Items: []string{"p1", "p2"}})
	require.NoError(t, err)
	b, err := Derive("", request{Email: "a@example.com", Items: []string{"p1", "p2"}})
	require.NoError(t, err)
	c, err := Derive("", request{Email: "a@example.com", Items: []string{"p1"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "derived:")

	k, err := Derive("  client-token ", request{})
	require.NoError(t, err)
	k2, err := Derive("client-token", request{Email: "other"})
	require.NoError(t, err)
	assert.Equal(t, k, k2)
	assert.Contains(t, k, "client:")
}

func runStoreContract(t *testing.T, s Store, key string) {
	ctx := context.Background()

	_, claimed, err := s.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	rec, claimed, err := s.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, StateInFlight, rec.State)

	require.NoError(t, s.Complete(ctx, key, []byte(`{"orderId":"o1"}`), time.Minute))
	rec, claimed, err = s.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, StateCompleted, rec.State)
	assert.JSONEq(t, `{"orderId":"o1"}`, string(rec.Result))

	require.NoError(t, s.Release(ctx, key))
	_, claimed, err = s.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, s.Release(ctx, key))
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore(), "k")
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, claimed, err := s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	now = now.Add(2 * time.Minute)
	_, claimed, err = s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.Cleanup())
}

func TestMemoryStore_SingleWinner(t *testing.T) {
	s := NewMemoryStore()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, claimed, err := s.Reserve(context.Background(), "same", time.Minute); err == nil && claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, cache.NewKeyspace("test-idempotency"))
	runStoreContract(t, s, "k-"+time.Now().Format(time.RFC3339Nano))
}
