// Package store defines the key-value store contract shared by the
// request-control components. All durable state (rate-limit windows, cache
// entries, tag indexes, CSRF tokens) lives behind this interface so that
// many stateless application instances can share one external store, and so
// tests can substitute an in-memory implementation.
package store

import (
	"context"
	"time"
)

// KeyValueStore is the contract for a remote store with per-key expiration.
// Each operation is independently atomic; there are no cross-key
// transactions. Every call performs network I/O and must be given a bounded
// context.
type KeyValueStore interface {
	// Get returns the value for key. ok=false when the key is absent or
	// expired; the two cases are indistinguishable.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key with the given TTL. ttl<=0 stores without
	// expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes keys. Absence is not an error.
	Delete(ctx context.Context, keys ...string) error

	// Increment atomically increments the counter at key and, if this
	// created the key, sets its TTL to window. Returns the updated count.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Expire sets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key. Zero when the key is
	// absent or has no expiration.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// SAdd adds members to the set stored at key, creating it if needed.
	SAdd(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set stored at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Keys returns all keys matching a glob pattern. O(total keys) on some
	// stores; reserved for administrative operations.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}
