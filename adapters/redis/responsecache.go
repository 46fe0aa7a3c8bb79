// Package redis provides a Redis-backed response cache shared by every
// gateway instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ConduitPlatform/Conduit-sub006/ports"
)

var _ ports.ResponseCache = (*ResponseCache)(nil)

// Default timeouts. Cache lookups sit on the request path, so they are
// kept short: a slow Redis degrades to a miss.
const (
	DefaultDialTimeout  = 2 * time.Second
	DefaultReadTimeout  = 200 * time.Millisecond
	DefaultWriteTimeout = 200 * time.Millisecond
	DefaultKeyPrefix    = "conduit:cache:"
)

// Config holds Redis connection settings.
type Config struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// ResponseCache stores response bodies in Redis with native expiry.
type ResponseCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewResponseCache connects to Redis and verifies the connection.
func NewResponseCache(ctx context.Context, cfg Config) (*ResponseCache, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("invalid redis configuration: no addresses")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewResponseCacheWithClient(client, cfg.KeyPrefix), nil
}

// NewResponseCacheWithClient wraps a pre-configured client.
// This is useful for testing with miniredis.
func NewResponseCacheWithClient(client redis.UniversalClient, keyPrefix string) *ResponseCache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &ResponseCache{client: client, keyPrefix: keyPrefix}
}

// Get returns the stored body. A missing key is a miss, not an error.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cached response: %w", err)
	}
	return data, true, nil
}

// Set stores value with a Redis TTL.
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache response: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *ResponseCache) Close() error {
	return c.client.Close()
}
