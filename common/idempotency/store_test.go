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

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "exchange"), mr
}

func TestRedisStore_ReserveOnce(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("exchange:evt-1"))

	ok, err = store.Reserve(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_IsProcessedAndRelease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.Reserve(ctx, "evt-2", time.Hour)
	require.NoError(t, err)

	processed, err = store.IsProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, store.Release(ctx, "evt-2"))
	processed, err = store.IsProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "evt-3", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	processed, err := store.IsProcessed(ctx, "evt-3")
	require.NoError(t, err)
	assert.False(t, processed)
}
