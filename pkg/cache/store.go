package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found or has expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("cache store closed")
)

// DefaultPath is the SQLite file used when no path is configured.
const DefaultPath = "async_api_cache.db"

// Store is a durable key -> (value, expiry) map.
//
// Implementations must be safe for concurrent Get and Set calls. Concurrent
// writes to the same key are last-writer-wins.
type Store interface {
	// Get returns the entry for key, or ErrCacheMiss when it is absent or
	// its expiry has passed. Expired rows are left in place.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set upserts value under key. ttl <= 0 stores an entry that never expires.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Clear physically removes expired entries and returns how many were removed.
	Clear(ctx context.Context) (int64, error)

	// Close releases the underlying resources.
	Close() error
}

// Clock returns the current time. Get and Set of one store share a clock.
type Clock func() time.Time

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}
