package profile

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"personachat/internal/config"
	"personachat/internal/models"
	"personachat/internal/redis"
)

func TestCacheStoreLoadAndInvalidate(t *testing.T) {
	cache, cleanup := newRedisCache(t)
	defer cleanup()
	ctx := context.Background()

	cache.store(ctx, &models.Profile{ID: "c1", Name: "Aiko", MaxTurns: 10, History: []models.HistoryEntry{{Role: "user", Text: "hi"}}})

	got, ok := cache.load(ctx, "c1")
	if !ok || got == nil {
		t.Fatalf("expected persona cached")
	}
	if got.Name != "Aiko" {
		t.Fatalf("name mismatch: want Aiko got %s", got.Name)
	}
	if got.MaxTurns != 0 || len(got.History) != 0 {
		t.Fatalf("turn counts and history must not be cached: %+v", got)
	}

	cache.invalidate(ctx, "c1")
	if _, ok := cache.load(ctx, "c1"); ok {
		t.Fatalf("expected persona invalidated")
	}
}

func TestCachePubSub(t *testing.T) {
	cache, cleanup := newRedisCache(t)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan string, 1)
	if err := cache.startListener(ctx, func(id string) { ch <- id }); err != nil {
		t.Fatalf("listener: %v", err)
	}
	cache.publishInvalidation(ctx, "c9")
	select {
	case got := <-ch:
		if got != "c9" {
			t.Fatalf("unexpected character %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive pubsub message")
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	cache.store(ctx, &models.Profile{ID: "c1"})
	if _, ok := cache.load(ctx, "c1"); ok {
		t.Fatalf("nil cache must miss")
	}
	cache.invalidate(ctx, "c1")
	cache.publishInvalidation(ctx, "c1")
	if err := cache.startListener(ctx, func(string) {}); err != nil {
		t.Fatalf("nil cache listener: %v", err)
	}
}

func newRedisCache(t *testing.T) (*Cache, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed profile tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := redis.NewClient(context.Background(), config.RedisConfig{Host: host, Port: port, DB: db})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	if raw := client.Raw(); raw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	return NewCache(client, time.Minute, nil), func() { client.Close() }
}
