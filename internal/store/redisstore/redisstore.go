// Package redisstore provides a Redis-backed fixed-window counting backend
// for distributed deployments.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"rategate/internal/common/errors"
)

// Store is a Redis-backed counting backend. The window for a key starts on
// its first increment and is tracked through the key's TTL, so a key's
// count and reset time can be inspected without knowing the window length.
type Store struct {
	rdb    *redis.Client
	config *Config
}

// Config holds Redis connection configuration
type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NewStore connects to Redis and verifies the connection.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		rdb:    rdb,
		config: config,
	}, nil
}

// Increment atomically adds cost to the counter for key. The first
// increment of a window sets the key's expiry to the window length; the
// reset time is derived from the remaining TTL afterwards.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration, cost int64) (int64, time.Time, error) {
	pipe := s.rdb.TxPipeline()

	incrCmd := pipe.IncrBy(ctx, key, cost)
	ttlCmd := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, errors.BackendError("failed to increment rate limit counter", err).
			WithContext("key", key)
	}

	now := time.Now()
	ttl := ttlCmd.Val()
	if ttl < 0 {
		// Key has no expiry yet: this increment opened the window.
		if err := s.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, errors.BackendError("failed to set rate limit window expiry", err).
				WithContext("key", key)
		}
		ttl = window
	}

	return incrCmd.Val(), now.Add(ttl), nil
}

// Peek returns the current count and reset time for key without mutating it.
func (s *Store) Peek(ctx context.Context, key string) (int64, time.Time, error) {
	pipe := s.rdb.TxPipeline()

	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, errors.BackendError("failed to read rate limit counter", err).
			WithContext("key", key)
	}

	count, err := getCmd.Int64()
	if err != nil {
		return 0, time.Time{}, errors.BackendError("unexpected rate limit counter value", err).
			WithContext("key", key)
	}

	return count, time.Now().Add(ttlCmd.Val()), nil
}

// Health pings the Redis server.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
