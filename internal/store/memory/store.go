// Package memory implements store.KeyValueStore in process memory with real
// TTL bookkeeping. It backs tests and single-instance development setups;
// production deployments share a Redis store across instances.
package memory

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/Drasasse/gestion-commerce-sub000/internal/store"
)

// entry is a stored value with an optional expiration
type entry struct {
	value     string
	members   map[string]struct{}
	expiresAt time.Time // zero means no expiration
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Config holds memory store settings
type Config struct {
	// CleanupInterval is how often expired entries are removed. Expired
	// entries are also filtered lazily on read, so this only bounds memory.
	CleanupInterval time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{CleanupInterval: 1 * time.Minute}
}

// Store implements store.KeyValueStore in memory
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	done    chan struct{}
	once    sync.Once
}

var _ store.KeyValueStore = (*Store)(nil)

// NewStore creates a new memory store
func NewStore(config *Config) *Store {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Store{
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go s.cleanup(config.CleanupInterval)
	}

	return s
}

// Get returns the value for key
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	now := time.Now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || e.expired(now) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with a TTL
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes keys
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	return nil
}

// Increment atomically increments the counter at key, setting the window
// TTL only when the increment created the key
func (s *Store) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = &entry{value: "1"}
		if window > 0 {
			e.expiresAt = now.Add(window)
		}
		s.entries[key] = e
		return 1, nil
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

// Expire sets the TTL of an existing key
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return nil
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

// TTL returns the remaining lifetime of key
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) || e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

// Exists reports whether key is present
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return ok && !e.expired(now), nil
}

// SAdd adds members to the set stored at key
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = &entry{members: make(map[string]struct{})}
		s.entries[key] = e
	}
	if e.members == nil {
		e.members = make(map[string]struct{})
	}
	for _, m := range members {
		e.members[m] = struct{}{}
	}
	return nil
}

// SMembers returns all members of the set stored at key
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return nil, nil
	}

	members := make([]string, 0, len(e.members))
	for m := range e.members {
		members = append(members, m)
	}
	return members, nil
}

// Keys returns all keys matching a glob pattern
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if ok, err := path.Match(pattern, k); err == nil && ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close stops the cleanup routine
func (s *Store) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// cleanup periodically removes expired entries
func (s *Store) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *Store) removeExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}
