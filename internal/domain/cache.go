package domain

import (
	"context"
	"time"
)

// Cache is a namespaced byte store. Kestrel keeps encoded catalogues in it
// so that a node can rebuild a RuleBase without a repository round trip.
// A miss is reported as nil, nil.
type Cache interface {
	Get(ctx context.Context, namespace string, key string) ([]byte, error)
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace string, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the cache.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string

	// In-process LRU, used alone in the community tier and as L1 otherwise.
	LocalMaxSize int
	LocalTTL     time.Duration

	// CatalogueTTL bounds how long an encoded catalogue may be served.
	CatalogueTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RedisKeyPrefix is prepended to every key so several deployments can
	// share one Redis. Defaults to "kestrel".
	RedisKeyPrefix string

	// EnableTwoPhase reads the local LRU before Redis.
	EnableTwoPhase bool
}
