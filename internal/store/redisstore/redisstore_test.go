package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewStore(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestNewStore(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		store, err := NewStore(&Config{Address: mr.Addr()})
		assert.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, store.Close())
	})

	t.Run("nil config", func(t *testing.T) {
		store, err := NewStore(nil)
		assert.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		store, err := NewStore(&Config{Address: "invalid:99999"})
		assert.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("defaults applied", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr(), PoolSize: 0}
		store, err := NewStore(config)
		require.NoError(t, err)
		defer store.Close()

		assert.Equal(t, 10, config.PoolSize)
	})
}

func TestStore_Increment(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	t.Run("counts accumulate", func(t *testing.T) {
		count, resetAt, err := store.Increment(ctx, "k1", time.Minute, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		assert.True(t, resetAt.After(time.Now()))

		count, _, err = store.Increment(ctx, "k1", time.Minute, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("cost is applied", func(t *testing.T) {
		count, _, err := store.Increment(ctx, "k2", time.Minute, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		count, _, err = store.Increment(ctx, "k2", time.Minute, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(6), count)
	})

	t.Run("window expiry resets the count", func(t *testing.T) {
		count, _, err := store.Increment(ctx, "k3", time.Second, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		mr.FastForward(2 * time.Second)

		count, _, err = store.Increment(ctx, "k3", time.Second, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("first increment sets expiry", func(t *testing.T) {
		_, _, err := store.Increment(ctx, "k4", time.Minute, 1)
		require.NoError(t, err)
		assert.Positive(t, mr.TTL("k4"))
	})
}

func TestStore_Peek(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	t.Run("unknown key reads zero", func(t *testing.T) {
		count, _, err := store.Peek(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("peek does not mutate", func(t *testing.T) {
		_, _, err := store.Increment(ctx, "p1", time.Minute, 2)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			count, _, err := store.Peek(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)
		}
	})
}

func TestStore_Health(t *testing.T) {
	store, mr := setupTestStore(t)

	assert.NoError(t, store.Health(context.Background()))

	mr.Close()
	assert.Error(t, store.Health(context.Background()))
}

func TestStore_IncrementAfterServerGone(t *testing.T) {
	store, mr := setupTestStore(t)
	mr.Close()

	_, _, err := store.Increment(context.Background(), "k", time.Minute, 1)
	assert.Error(t, err)
}
