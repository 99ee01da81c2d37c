// Package redis is a byte cache for read API responses backed by go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Isagog/copertinefull/internal/metrics"
)

const keyPrefix = "copertine:api:"

// Cache stores response bodies with a fixed TTL.
type Cache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// New dials addr lazily and returns a Cache.
func New(addr string, ttl time.Duration) *Cache {
	return NewWithClient(goredis.NewClient(&goredis.Options{Addr: addr}), ttl)
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get returns the cached value for key. A miss is not an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		metrics.ObserveCacheLookup(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	metrics.ObserveCacheLookup(true)
	return val, true, nil
}

// Set stores value under key for the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, Key(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// Key namespaces a cache key.
func Key(key string) string {
	return keyPrefix + key
}
