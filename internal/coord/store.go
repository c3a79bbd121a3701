// Package coord is the shared coordination store every turnstile process
// talks to. It exposes the atomic primitives the orchestration layer needs
// (conditional set, compare-and-delete, compare-and-expire, lock-guarded
// writes, capped lists, counters with expiry) behind one interface, with a Redis driver for
// production and an in-memory driver for tests and single-process use.
package coord

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Common errors for coordination store operations.
var (
	ErrNotFound         = errors.New("coord: key not found")
	ErrInvalidConfig    = errors.New("coord: invalid configuration")
	ErrInvalidStoreType = errors.New("coord: invalid store type")
)

// Store is the coordination store contract.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// TTL returns the remaining lifetime of key, zero if it has no expiry,
	// or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SetNX stores value only if key does not exist. Reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if it currently holds expect.
	CompareAndDelete(ctx context.Context, key string, expect []byte) (bool, error)

	// CompareAndExpire resets the ttl of key only if it currently holds expect.
	CompareAndExpire(ctx context.Context, key string, expect []byte, ttl time.Duration) (bool, error)

	// SetIfHolder stores value at key with ttl and resets the ttl of
	// lockKey to lockTTL, but only while lockKey holds holder. Both happen
	// in one atomic step; it reports whether the write was made.
	SetIfHolder(ctx context.Context, lockKey string, holder []byte, lockTTL time.Duration, key string, value []byte, ttl time.Duration) (bool, error)

	// RPush appends values to the list at key, trims it to the newest
	// limit entries when limit > 0, and applies ttl when ttl > 0.
	RPush(ctx context.Context, key string, limit int64, ttl time.Duration, values ...[]byte) error

	// LPush prepends values to the list at key.
	LPush(ctx context.Context, key string, values ...[]byte) error

	// LRange returns list entries in [start, stop], negative indexes
	// counting from the tail.
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// LLen returns the list length; a missing key has length zero.
	LLen(ctx context.Context, key string) (int64, error)

	// LPop removes and returns the list head, or ErrNotFound.
	LPop(ctx context.Context, key string) ([]byte, error)

	// BLPop waits up to timeout for a list head, returning ErrNotFound on
	// timeout.
	BLPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)

	// IncrBy atomically adds delta to the counter at key and applies ttl
	// when ttl > 0. Returns the new value.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// StoreType selects a driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption is a functional option for configuring a store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient redis.UniversalClient
	now         func() time.Time
}

// WithRedisClient sets the client used by the Redis driver.
func WithRedisClient(client redis.UniversalClient) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithClock sets the clock the memory driver uses to expire keys.
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}

// NewStore creates a Store for the given driver type.
// The Redis driver requires WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(cfg.now), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(cfg.redisClient), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
