package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newRedisStore(t, time.Hour)
	return map[string]Store{
		"memory": NewMemoryStore(time.Hour),
		"redis":  rs,
	}
}

func TestStore_ReserveCompleteReplay(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			existing, err := s.Reserve(ctx, "k1", "hash-a")
			require.NoError(t, err)
			assert.Nil(t, existing, "first reservation wins")

			existing, err = s.Reserve(ctx, "k1", "hash-a")
			require.NoError(t, err)
			require.NotNil(t, existing)
			_, err = Check(existing, "hash-a")
			assert.ErrorIs(t, err, ErrInFlight)

			body := json.RawMessage(`{"transfer_id":"x"}`)
			require.NoError(t, s.Complete(ctx, "k1", Record{RequestHash: "hash-a", ResponseStatus: 201, ResponseBody: body}))

			existing, err = s.Reserve(ctx, "k1", "hash-a")
			require.NoError(t, err)
			rec, err := Check(existing, "hash-a")
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, rec.Status)
			assert.Equal(t, 201, rec.ResponseStatus)
			assert.JSONEq(t, string(body), string(rec.ResponseBody))

			existing, err = s.Reserve(ctx, "k1", "hash-b")
			require.NoError(t, err)
			_, err = Check(existing, "hash-b")
			assert.ErrorIs(t, err, ErrMismatch)
		})
	}
}

func TestStore_ReleaseFreesKey(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Reserve(ctx, "k2", "hash-a")
			require.NoError(t, err)
			require.NoError(t, s.Release(ctx, "k2"))

			existing, err := s.Reserve(ctx, "k2", "hash-b")
			require.NoError(t, err)
			assert.Nil(t, existing)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Reserve(ctx, "k", "h")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	existing, err := s.Reserve(ctx, "k", "other")
	require.NoError(t, err)
	assert.Nil(t, existing, "expired keys can be reused")
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, time.Minute)

	_, err := s.Reserve(ctx, "k", "h")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"k"))

	mr.FastForward(2 * time.Minute)
	existing, err := s.Reserve(ctx, "k", "other")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestRedisStore_Unreachable(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	mr.Close()

	_, err := s.Reserve(context.Background(), "k", "h")
	assert.Error(t, err)
}
