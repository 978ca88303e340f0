package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func TestTryLock_OnlyOnce(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "orders", "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, "orders", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.TryLock(ctx, "orders:other-user", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelease_AllowsRetry(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.TryLock(ctx, "orders", "k1")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "orders", "k1"))

	ok, err := s.TryLock(ctx, "orders", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRememberRecall(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_, found, err := s.Recall(ctx, "orders", "k1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Remember(ctx, "orders", "k1", "order-42"))
	v, found, err := s.Recall(ctx, "orders", "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "order-42", v)

	mr.FastForward(2 * time.Hour)
	_, found, err = s.Recall(ctx, "orders", "k1")
	require.NoError(t, err)
	assert.False(t, found)
}
