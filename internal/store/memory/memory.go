// Package memory provides an in-process fixed-window counting backend.
// It is the default backend for single-instance deployments and doubles
// as the fallback backend when a remote store is unreachable.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type counter struct {
	count   int64
	resetAt time.Time
}

// Store is a thread-safe in-memory counting backend.
type Store struct {
	mu       sync.Mutex
	counters map[string]*counter
	sweeper  *cron.Cron
}

// Config holds memory store configuration
type Config struct {
	// SweepInterval is how often expired windows are purged, as a cron
	// @every duration string. Empty disables the janitor.
	SweepInterval string `json:"sweep_interval"`
}

// NewStore creates a new in-memory store. If config enables sweeping, a
// background janitor purges expired windows on the configured interval.
func NewStore(config *Config) (*Store, error) {
	s := &Store{
		counters: make(map[string]*counter),
	}

	if config != nil && config.SweepInterval != "" {
		s.sweeper = cron.New()
		if _, err := s.sweeper.AddFunc("@every "+config.SweepInterval, s.purgeExpired); err != nil {
			return nil, err
		}
		s.sweeper.Start()
	}

	return s, nil
}

// Increment adds cost to the counter for key, starting a fresh window if
// the previous one has expired.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration, cost int64) (int64, time.Time, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count += cost

	return c.count, c.resetAt, nil
}

// Peek returns the current count and reset time for key without mutating it.
func (s *Store) Peek(ctx context.Context, key string) (int64, time.Time, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		return 0, time.Time{}, nil
	}

	return c.count, c.resetAt, nil
}

// Health always succeeds for the in-memory store.
func (s *Store) Health(ctx context.Context) error {
	return nil
}

// Close stops the janitor if one is running.
func (s *Store) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	return nil
}

// Reset clears all counters. Intended for tests and administrative use.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*counter)
}

func (s *Store) purgeExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, key)
		}
	}
}
