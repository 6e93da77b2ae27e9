// Package store defines the counting-backend contract consumed by the
// rate-limit engine. The engine treats a backend purely through the
// atomic increment-and-read primitive; the windowing algorithm (fixed or
// sliding) is the backend's own business.
package store

import (
	"context"
	"time"
)

// Store is the counting backend contract.
//
// Increment must be atomic: concurrent callers on the same key must each
// observe a distinct count. The returned count is the value after the
// increment was applied, and resetAt is when the key's current window ends.
type Store interface {
	// Increment adds cost to the counter for key within the given window
	// and returns the count after the increment together with the window's
	// reset time.
	Increment(ctx context.Context, key string, window time.Duration, cost int64) (count int64, resetAt time.Time, err error)

	// Peek returns the current count and reset time for key without
	// mutating it. Used for diagnostics only.
	Peek(ctx context.Context, key string) (count int64, resetAt time.Time, err error)

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
