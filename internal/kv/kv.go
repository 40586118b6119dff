// Package kv defines the key-value store contract the instrumented cache
// facade is built on. Implementations may use Redis (the primary backend),
// an in-memory map, or an embedded bbolt file. Values are raw byte slices;
// encoding is left to the caller.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: key not found")

// ErrConnection is returned when the store backend is unreachable.
var ErrConnection = errors.New("kv: store unreachable")

// Store abstracts the primitive operations of an external key-value store.
// Each operation is atomic on its own; sequences of operations are not.
type Store interface {
	// Get retrieves the raw value stored under key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value under key with no expiry, overwriting any
	// previous value.
	Set(ctx context.Context, key string, value []byte) error

	// SetEx stores a value under key that expires after ttl.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Incr increments the decimal integer counter at key by one, creating
	// it at zero first, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// RPush appends values to the tail of the list at key, creating the
	// list if it does not exist.
	RPush(ctx context.Context, key string, values ...[]byte) error

	// LRange returns the list elements between start and stop inclusive.
	// Negative indexes count from the tail, -1 being the last element.
	// A missing key yields an empty result, not an error.
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// FlushAll removes every entry visible through this store handle.
	FlushAll(ctx context.Context) error

	// Ping verifies connectivity to the underlying backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend  string // "redis", "memory", or "bolt"
	Addr     string // Redis address (e.g. "localhost:6379")
	Password string // Redis password
	DB       int    // Redis database number
	Path     string // bolt database file path
}

// Open constructs the backend named by cfg.Backend. An empty backend
// selects Redis.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendRedis:
		return NewRedisStore(cfg.Addr, cfg.Password, cfg.DB)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBolt:
		return OpenBoltStore(cfg.Path)
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}
