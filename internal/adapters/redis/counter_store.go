// Package redis provides the Redis-backed counter store used by the rate
// limiter. Increments are single atomic INCR commands on the server, which
// is what makes concurrent admission checks race-free.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// CounterStore implements ports.CounterStore on a Redis client.
type CounterStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewCounterStore connects to Redis and verifies the connection with a ping.
func NewCounterStore(cfg Config, logger zerolog.Logger) (*CounterStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis counter store")

	return &CounterStore{client: client, logger: logger}, nil
}

// NewCounterStoreFromClient wraps an existing client; used by tests.
func NewCounterStoreFromClient(client *redis.Client, logger zerolog.Logger) *CounterStore {
	return &CounterStore{client: client, logger: logger}
}

// IncrWindow atomically increments key. The expiry is only set on the
// increment that created the counter, so a window's TTL is fixed at its
// first hit and later hits never extend it.
func (s *CounterStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", key, err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			// Counter stays valid; it just lives until the next flush.
			s.logger.Warn().Err(err).Str("key", key).Msg("redis expire failed")
		}
	}
	return count, nil
}

// GetCount reads a counter. A missing key reads as zero.
func (s *CounterStore) GetCount(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %q: %w", key, err)
	}
	return count, nil
}

// DeleteMatching scans for keys matching the glob pattern and deletes them.
func (s *CounterStore) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()

	deleted := 0
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("redis del %q: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan %q: %w", pattern, err)
	}
	return deleted, nil
}

// HealthCheck reports whether Redis is reachable.
func (s *CounterStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *CounterStore) Close() error {
	return s.client.Close()
}
