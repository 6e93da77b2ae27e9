package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Increment(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	t.Run("counts accumulate within a window", func(t *testing.T) {
		count, resetAt, err := s.Increment(ctx, "k1", time.Minute, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		assert.True(t, resetAt.After(time.Now()))

		count, _, err = s.Increment(ctx, "k1", time.Minute, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("cost is applied per increment", func(t *testing.T) {
		count, _, err := s.Increment(ctx, "k2", time.Minute, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		count, _, err = s.Increment(ctx, "k2", time.Minute, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(6), count)
	})

	t.Run("expired window starts fresh", func(t *testing.T) {
		count, _, err := s.Increment(ctx, "k3", 10*time.Millisecond, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		time.Sleep(20 * time.Millisecond)

		count, _, err = s.Increment(ctx, "k3", 10*time.Millisecond, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("keys are independent", func(t *testing.T) {
		count, _, err := s.Increment(ctx, "k4", time.Minute, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		count, _, err = s.Increment(ctx, "k5", time.Minute, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestStore_Peek(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	t.Run("unknown key reads zero", func(t *testing.T) {
		count, _, err := s.Peek(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("peek does not mutate", func(t *testing.T) {
		_, _, err := s.Increment(ctx, "p1", time.Minute, 2)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			count, resetAt, err := s.Peek(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)
			assert.True(t, resetAt.After(time.Now()))
		}
	})

	t.Run("expired window reads zero", func(t *testing.T) {
		_, _, err := s.Increment(ctx, "p2", 10*time.Millisecond, 1)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		count, _, err := s.Peek(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, _, err := s.Increment(ctx, "concurrent", time.Minute, 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, _, err := s.Peek(ctx, "concurrent")
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine), count)
}

func TestStore_PurgeExpired(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := s.Increment(ctx, fmt.Sprintf("old-%d", i), time.Millisecond, 1)
		require.NoError(t, err)
	}
	_, _, err = s.Increment(ctx, "live", time.Minute, 1)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	s.purgeExpired()

	s.mu.Lock()
	remaining := len(s.counters)
	s.mu.Unlock()
	assert.Equal(t, 1, remaining)
}

func TestNewStore_SweepInterval(t *testing.T) {
	t.Run("valid interval starts janitor", func(t *testing.T) {
		s, err := NewStore(&Config{SweepInterval: "100ms"})
		require.NoError(t, err)
		defer s.Close()
		assert.NotNil(t, s.sweeper)
	})

	t.Run("invalid interval fails", func(t *testing.T) {
		s, err := NewStore(&Config{SweepInterval: "not-a-duration"})
		assert.Error(t, err)
		assert.Nil(t, s)
	})
}

func TestStore_Reset(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, _, err = s.Increment(ctx, "r1", time.Minute, 1)
	require.NoError(t, err)

	s.Reset()

	count, _, err := s.Peek(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
