package ratelimit

import (
	"fmt"
	"time"
)

// Decision is the outcome of one admission evaluation. Produced fresh per
// request, never persisted.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Limit is the binding limit for quota metadata: the first limit of
	// the sequence on success, the violated limit on denial. Zero when the
	// evaluation was bypassed without touching the backend.
	Limit Limit
	// Remaining is the quota left under Limit, floored at zero.
	Remaining int64
	// ResetAt is when Limit's current window ends.
	ResetAt time.Time
	// RetryAfter is how long the caller should wait before retrying.
	// Zero unless the request was denied.
	RetryAfter time.Duration
}

// Bypassed reports whether the evaluation never consulted the backend, so
// no quota metadata is available.
func (d Decision) Bypassed() bool {
	return d.Allowed && d.Limit.IsZero()
}

// Err returns a RateLimitExceeded carrying the decision when the request
// was denied, nil otherwise. Denial is a designed outcome, not an engine
// failure; the error form exists so boundary adapters can branch on it.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitExceeded{Decision: d}
}

// RateLimitExceeded signals a denied request to the boundary layer, which
// is responsible for turning it into a transport-level response.
type RateLimitExceeded struct {
	Decision Decision
}

// Error implements the error interface.
func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s", e.Decision.Limit)
}
