package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache is the duck-typed-object-to-interface transformation spec
// §9 calls for, applied to caching: one interface, a Redis-backed
// implementation and an in-process fallback, selected at startup by
// whether REDIS_URL is configured.
type ResponseCache interface {
	Get(ctx context.Context, key string) (Response, bool)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration)
}

// MemoryCache is the fallback used when REDIS_URL is unset: a map guarded
// by a mutex with lazy TTL eviction on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Response{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return Response{}, false
	}
	return e.resp, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, resp Response, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{resp: resp, expiresAt: time.Now().Add(ttl)}
}

// RedisCache stores responses in Redis via SETEX, keyed under a fixed
// prefix so the cache can share a Redis instance with other consumers.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opt)}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (Response, bool) {
	data, err := c.client.Get(ctx, "search:"+key).Bytes()
	if err != nil {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}
	return resp, true
}

func (c *RedisCache) Set(ctx context.Context, key string, resp Response, ttl time.Duration) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.client.SetEx(ctx, "search:"+key, data, ttl)
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error { return c.client.Close() }
