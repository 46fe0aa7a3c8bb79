package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ConduitPlatform/Conduit-sub006/adapters/memory"
)

func TestResponseCache_SetGet(t *testing.T) {
	c := memory.NewResponseCache(memory.ResponseCacheConfig{})
	defer c.Close()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}

	body := []byte(`{"users":[]}`)
	if err := c.Set(ctx, "k", body, time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	body[0] = 'X'

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get(k) = %v, %v", ok, err)
	}
	if string(got) != `{"users":[]}` {
		t.Errorf("Get(k) = %s, stored value must not alias the caller's slice", got)
	}
}

func TestResponseCache_Expiry(t *testing.T) {
	c := memory.NewResponseCache(memory.ResponseCacheConfig{})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry outlived its ttl")
	}
}

func TestResponseCache_Cleanup(t *testing.T) {
	c := memory.NewResponseCache(memory.ResponseCacheConfig{CleanupInterval: 10 * time.Millisecond})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "short", []byte("v"), time.Millisecond)
	c.Set(ctx, "long", []byte("v"), time.Hour)

	deadline := time.Now().Add(time.Second)
	for c.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d after cleanup, want 1", c.Len())
	}
}

func TestResponseCache_Concurrent(t *testing.T) {
	c := memory.NewResponseCache(memory.ResponseCacheConfig{NumShards: 4})
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			c.Set(ctx, key, []byte(key), time.Minute)
			c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if c.Len() != 10 {
		t.Errorf("Len() = %d, want 10", c.Len())
	}
}

func TestResponseCache_CloseIdempotent(t *testing.T) {
	c := memory.NewResponseCache(memory.ResponseCacheConfig{})
	c.Close()
	c.Close()
}
