package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SuggestionCache stores suggestion lists by key for a bounded time.
type SuggestionCache interface {
	Get(ctx context.Context, key string) ([]Suggestion, bool, error)
	Set(ctx context.Context, key string, items []Suggestion, ttl time.Duration) error
}

func suggestionKey(normalized string, limit int) string {
	return fmt.Sprintf("place_suggestions:%s:%d", normalized, limit)
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]Suggestion, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var items []Suggestion
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("decode cached suggestions: %w", err)
	}
	return items, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, items []Suggestion, ttl time.Duration) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

type cacheEntry struct {
	items     []Suggestion
	expiresAt time.Time
}

// MemoryCache is a TTL map. Expired entries are dropped on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewMemoryCache(clock func() time.Time) *MemoryCache {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCache{entries: make(map[string]cacheEntry), now: clock}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]Suggestion, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]Suggestion(nil), e.items...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, items []Suggestion, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = cacheEntry{items: append([]Suggestion(nil), items...), expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
