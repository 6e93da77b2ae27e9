package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	store, err := New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	t.Run("sqlite in memory", func(t *testing.T) {
		store, err := New("sqlite3", ":memory:")
		assert.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, store.Close())
	})

	t.Run("unsupported driver", func(t *testing.T) {
		store, err := New("mysql", "dsn")
		assert.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "unsupported sql store driver")
	})
}

func TestStore_Rebind(t *testing.T) {
	t.Run("sqlite keeps question marks", func(t *testing.T) {
		s := &Store{driver: "sqlite3"}
		assert.Equal(t, "SELECT ? FROM t WHERE a = ?", s.rebind("SELECT ? FROM t WHERE a = ?"))
	})

	t.Run("postgres gets numbered placeholders", func(t *testing.T) {
		s := &Store{driver: "pgx"}
		assert.Equal(t, "SELECT $1 FROM t WHERE a = $2", s.rebind("SELECT ? FROM t WHERE a = ?"))
	})
}

func TestStore_Increment(t *testing.T) {
	store := setupTestStore(t)
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

	t.Run("reset time is stable within a window", func(t *testing.T) {
		_, first, err := store.Increment(ctx, "k3", time.Minute, 1)
		require.NoError(t, err)
		_, second, err := store.Increment(ctx, "k3", time.Minute, 1)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("expired window starts fresh", func(t *testing.T) {
		count, _, err := store.Increment(ctx, "k4", 10*time.Millisecond, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		time.Sleep(20 * time.Millisecond)

		count, _, err = store.Increment(ctx, "k4", 10*time.Millisecond, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestStore_Peek(t *testing.T) {
	store := setupTestStore(t)
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

	t.Run("expired window reads zero", func(t *testing.T) {
		_, _, err := store.Increment(ctx, "p2", 10*time.Millisecond, 1)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		count, _, err := store.Peek(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestStore_PurgeExpired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, _, err := store.Increment(ctx, "old", time.Millisecond, 1)
	require.NoError(t, err)
	_, _, err = store.Increment(ctx, "live", time.Minute, 1)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	count, _, err := store.Peek(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_Health(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.Health(context.Background()))
}
