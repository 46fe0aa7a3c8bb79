// Package cache serves repeated GET requests from stored response bodies.
//
// Entries are keyed by a fingerprint of the request path, its auth
// context and its parameters, and live for the route's max-age. Store
// failures never fail a request: the handler simply runs.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/ConduitPlatform/Conduit-sub006/ports"
)

// Control is a parsed route CacheControl value.
type Control struct {
	Scope  string // "public" or "private"
	MaxAge time.Duration
}

// ParseControl parses "<scope>, max-age=<seconds>". The scope defaults to
// public.
func ParseControl(s string) (Control, error) {
	c := Control{Scope: "public"}
	found := false
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		switch {
		case part == "public" || part == "private":
			c.Scope = part
		case strings.HasPrefix(part, "max-age="):
			secs, err := strconv.Atoi(strings.TrimPrefix(part, "max-age="))
			if err != nil || secs < 0 {
				return Control{}, fmt.Errorf("invalid max-age in %q", s)
			}
			c.MaxAge = time.Duration(secs) * time.Second
			found = true
		case part == "":
		default:
			return Control{}, fmt.Errorf("unsupported cache directive %q", part)
		}
	}
	if !found {
		return Control{}, fmt.Errorf("cache control %q has no max-age", s)
	}
	return c, nil
}

// Header renders the Cache-Control response header.
func (c Control) Header() string {
	return fmt.Sprintf("%s, max-age=%d", c.Scope, int(c.MaxAge/time.Second))
}

// Key fingerprints a request. Maps are encoded with sorted keys so equal
// requests always produce the same key.
func Key(path string, reqContext, params map[string]any) (string, error) {
	data, err := json.Marshal(struct {
		Path    string         `json:"path"`
		Context map[string]any `json:"context"`
		Params  map[string]any `json:"params"`
	}{path, reqContext, params})
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Metrics is the subset of ports.Metrics the cache reports to.
type Metrics interface {
	CacheLookup(routeKey string, hit bool)
}

// Cache wraps a store with logging and metrics.
type Cache struct {
	store   ports.ResponseCache
	logger  zerolog.Logger
	metrics Metrics
}

// New creates a cache over store. A nil metrics disables reporting.
func New(store ports.ResponseCache, logger zerolog.Logger, metrics Metrics) *Cache {
	return &Cache{store: store, logger: logger, metrics: metrics}
}

// Lookup returns the stored body for key. Store errors count as misses.
func (c *Cache) Lookup(ctx context.Context, routeKey, key string) ([]byte, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("route", routeKey).Msg("cache lookup failed")
		ok = false
	}
	if c.metrics != nil {
		c.metrics.CacheLookup(routeKey, ok)
	}
	return data, ok
}

// Save stores body for ttl. Errors are logged and dropped.
func (c *Cache) Save(ctx context.Context, routeKey, key string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.store.Set(ctx, key, body, ttl); err != nil {
		c.logger.Warn().Err(err).Str("route", routeKey).Msg("cache store failed")
	}
}
