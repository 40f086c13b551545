package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis starts an in-process Redis server for the test.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *CounterStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewCounterStoreFromClient(client, zerolog.Nop())
}

func TestIncrWindow_SequentialCounts(t *testing.T) {
	_, store := setupMiniRedis(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := store.IncrWindow(ctx, "ratelimit:user-1:100", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIncrWindow_TTLOnlySetOnCreate(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()

	_, err := store.IncrWindow(ctx, "ratelimit:user-1:100", time.Minute)
	require.NoError(t, err)
	created := mr.TTL("ratelimit:user-1:100")
	assert.Equal(t, time.Minute, created)

	// Later increments must not extend the window.
	mr.FastForward(30 * time.Second)
	_, err = store.IncrWindow(ctx, "ratelimit:user-1:100", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:user-1:100"))
}

func TestIncrWindow_CounterExpires(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()

	_, err := store.IncrWindow(ctx, "ratelimit:user-1:100", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	count, err := store.GetCount(ctx, "ratelimit:user-1:100")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetCount_MissingKeyIsZero(t *testing.T) {
	_, store := setupMiniRedis(t)

	count, err := store.GetCount(context.Background(), "ratelimit:ghost:1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteMatching(t *testing.T) {
	_, store := setupMiniRedis(t)
	ctx := context.Background()

	for _, key := range []string{
		"ratelimit:user-1:100",
		"ratelimit:user-1:101",
		"ratelimit:user-2:100",
	} {
		_, err := store.IncrWindow(ctx, key, time.Minute)
		require.NoError(t, err)
	}

	deleted, err := store.DeleteMatching(ctx, "ratelimit:user-1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := store.GetCount(ctx, "ratelimit:user-2:100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIncrWindow_ServerDown(t *testing.T) {
	mr, store := setupMiniRedis(t)
	mr.Close()

	_, err := store.IncrWindow(context.Background(), "ratelimit:user-1:100", time.Minute)
	require.Error(t, err)
}
