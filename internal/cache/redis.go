// Package cache provides a Redis-backed JSON cache for upstream lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"orgchart/api/internal/metrics"
)

// RedisCache stores JSON values under "<prefix><namespace>:<key>".
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client), nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "orgchart:"}
}

func (c *RedisCache) key(namespace, key string) string {
	return c.prefix + namespace + ":" + key
}

// GetJSON decodes the cached value into target and reports whether it was
// present.
func (c *RedisCache) GetJSON(ctx context.Context, namespace, key string, target any) (bool, error) {
	raw, err := c.client.Get(ctx, c.key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues(namespace, "miss").Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues(namespace, "error").Inc()
		return false, fmt.Errorf("cache get %s: %w", namespace, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		metrics.CacheLookups.WithLabelValues(namespace, "error").Inc()
		return false, fmt.Errorf("cache decode %s: %w", namespace, err)
	}
	metrics.CacheLookups.WithLabelValues(namespace, "hit").Inc()
	return true, nil
}

// SetJSON stores value for ttl. A non-positive ttl keeps the key forever.
func (c *RedisCache) SetJSON(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", namespace, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key(namespace, key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", namespace, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, namespace, key string) error {
	if err := c.client.Del(ctx, c.key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", namespace, err)
	}
	return nil
}

// Client exposes the underlying connection for components sharing it, such
// as the rate limiter store.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
