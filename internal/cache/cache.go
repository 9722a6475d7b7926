// Package cache provides a generic TTL cache interface with memory and Redis
// backends, used here to cache catalog-validation results keyed by model id.
package cache

import (
	"context"
	"errors"
	"time"

	"blackbox/internal/config"
)

// Backend identifiers.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Standard cache errors.
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrCacheClosed = errors.New("cache is closed")
)

// Cache is the interface every backend implements.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetWithTTL(ctx context.Context, key string) (value []byte, ttl time.Duration, err error)
	Stats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// Stats reports cache performance counters.
type Stats struct {
	TotalKeys   int64
	Hits        int64
	Misses      int64
	HitRate     float64
	MemoryBytes int64
	Backend     string
}

// Options configures a Cache's construction.
type Options struct {
	Backend    string
	DefaultTTL time.Duration

	MaxEntries      int
	CleanupInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// DefaultOptions returns the memory backend with a 60s default TTL, matching
// the catalog-validation cache's decided TTL.
func DefaultOptions() *Options {
	return &Options{
		Backend:         BackendMemory,
		DefaultTTL:      60 * time.Second,
		MaxEntries:      10000,
		CleanupInterval: 1 * time.Minute,
		RedisAddr:       "localhost:6379",
		RedisPoolSize:   10,
	}
}

// FromConfig builds cache Options from the resolved daemon configuration.
func FromConfig(cfg *config.CacheConfig) *Options {
	return &Options{
		Backend:         cfg.Driver,
		DefaultTTL:      cfg.DefaultTTL,
		MaxEntries:      10000,
		CleanupInterval: 1 * time.Minute,
		RedisAddr:       cfg.RedisAddr,
		RedisDB:         cfg.RedisDB,
		RedisPoolSize:   10,
	}
}

// New builds a Cache for opts.Backend, defaulting to memory when unset or unknown.
func New(opts *Options) (Cache, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	switch opts.Backend {
	case BackendRedis:
		return NewRedisCache(opts)
	case BackendMemory, "":
		return NewMemoryCache(opts), nil
	default:
		return NewMemoryCache(opts), nil
	}
}
