package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-health/kestrel/internal/domain"
)

const redisDialTimeout = 5 * time.Second

// RedisCache stores entries in Redis under "<prefix>:<namespace>:<key>".
// Nodes sharing a Redis see each other's catalogues.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache connects to the Redis named in cfg and verifies the
// connection before returning.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: redisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return newRedisCache(client, cfg.RedisKeyPrefix), nil
}

func newRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "kestrel"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get returns nil, nil when the key does not exist.
func (c *RedisCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	k, err := c.key(namespace, key)
	if err != nil {
		return nil, err
	}

	val, err := c.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", k, err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	k, err := c.key(namespace, key)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, k, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, namespace string, key string) error {
	k, err := c.key(namespace, key)
	if err != nil {
		return err
	}
	if err := c.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", k, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(namespace, key string) (string, error) {
	if namespace == "" {
		return "", ErrNamespaceRequired
	}
	return c.prefix + ":" + joinKey(namespace, key), nil
}
