package store

import (
	"context"
	"time"
)

// Cache is a volatile key-value store with per-entry TTL, used to cache
// serialized tasks and results by ID in front of the record store.
// A miss is not an error; implementations must treat expired entries
// as absent.
type Cache interface {
	// Get returns the cached value for key. The second return is false
	// on a miss or expired entry.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for the given TTL. A non-positive TTL
	// stores the entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key from the cache. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error
}
