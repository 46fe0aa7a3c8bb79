package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewResponseCacheWithClient(client, "")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestResponseCache_SetGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte(`{"a":1}`), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(got))

	assert.True(t, mr.Exists(DefaultKeyPrefix+"k"))
	assert.Equal(t, time.Minute, mr.TTL(DefaultKeyPrefix+"k"))
}

func TestResponseCache_Expiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResponseCache_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c := NewResponseCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "")
	defer c.Close()
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
}

func TestNewResponseCache_Validation(t *testing.T) {
	_, err := NewResponseCache(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewResponseCache_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewResponseCache(context.Background(), Config{Addrs: []string{mr.Addr()}, KeyPrefix: "test:"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("test:k"))
}
