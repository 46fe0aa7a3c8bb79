// Package memory provides in-process implementations of the gateway ports.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ConduitPlatform/Conduit-sub006/ports"
)

var _ ports.ResponseCache = (*ResponseCache)(nil)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// cacheShard is a single shard of the response cache.
type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// ResponseCache is a sharded in-memory response cache.
// Uses sharding to reduce lock contention for high throughput.
type ResponseCache struct {
	shards    []*cacheShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// ResponseCacheConfig configures the in-memory response cache.
type ResponseCacheConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to drop expired entries (default: 1m)
}

// NewResponseCache creates a sharded in-memory response cache.
func NewResponseCache(cfg ResponseCacheConfig) *ResponseCache {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	c := &ResponseCache{
		shards:    make([]*cacheShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
		now:       time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]cacheEntry)}
	}

	// Start background cleanup
	c.cleanup = time.NewTicker(cfg.CleanupInterval)
	go c.cleanupLoop()

	return c
}

// getShard returns the shard for a given key using consistent hashing.
func (c *ResponseCache) getShard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(c.numShards)]
}

// Get returns a live entry.
func (c *ResponseCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	shard := c.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	e, ok := shard.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value until ttl elapses.
func (c *ResponseCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	shard.entries[key] = cacheEntry{value: stored, expiresAt: c.now().Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.entries)
		shard.mu.RUnlock()
	}
	return n
}

// cleanupLoop periodically removes expired entries.
func (c *ResponseCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanup.C:
			c.doCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *ResponseCache) doCleanup() {
	now := c.now()
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, e := range shard.entries {
			if !now.Before(e.expiresAt) {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *ResponseCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cleanup.Stop()
	})
	return nil
}
