package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecision_Err(t *testing.T) {
	t.Run("allowed decision has no error", func(t *testing.T) {
		d := Decision{Allowed: true, Limit: Limit{Amount: 10, Period: time.Minute}}
		assert.NoError(t, d.Err())
	})

	t.Run("denial round-trips through the error value", func(t *testing.T) {
		d := Decision{
			Allowed:    false,
			Limit:      Limit{Amount: 2, Period: time.Minute},
			Remaining:  0,
			ResetAt:    time.Now().Add(30 * time.Second),
			RetryAfter: 30 * time.Second,
		}

		err := d.Err()
		require.Error(t, err)

		exceeded, ok := err.(*RateLimitExceeded)
		require.True(t, ok)
		assert.Equal(t, d, exceeded.Decision)
		assert.Contains(t, exceeded.Error(), "rate limit exceeded")
		assert.Contains(t, exceeded.Error(), "2 per 1m0s")
	})
}

func TestDecision_Bypassed(t *testing.T) {
	assert.True(t, Decision{Allowed: true}.Bypassed())
	assert.False(t, Decision{Allowed: true, Limit: Limit{Amount: 1, Period: time.Second}}.Bypassed())
	assert.False(t, Decision{Allowed: false, Limit: Limit{Amount: 1, Period: time.Second}}.Bypassed())
}
