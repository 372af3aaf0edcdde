// Package cache is a thin Redis wrapper for read-through caching of loan
// lookups. Callers treat it as best-effort: a miss or a Redis failure is
// never an error, just a fall-through to storage.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr string, ttl time.Duration) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &Cache{client: rdb, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *Cache) Set(ctx context.Context, key, value string) {
	c.client.Set(ctx, key, value, c.ttl)
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	c.client.Del(ctx, keys...)
}

func (c *Cache) Close() error {
	return c.client.Close()
}
