// Package cache implements the tag-indexed cache shared by route handlers.
//
// Entries are JSON-serialized values under {prefix}:{key} with a TTL; tags
// group entries under tag:{name} sets so whole categories can be invalidated
// in one call. Tag invalidation is best-effort: deletes spanning many keys
// are not atomic, and a reader may observe a partially-invalidated group.
// Store errors on the read path are treated as misses and never surfaced.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Drasasse/gestion-commerce-sub000/internal/store"
	"github.com/Drasasse/gestion-commerce-sub000/pkg/metrics"
)

// Named TTL tiers
const (
	TTLShort    = 60 * time.Second
	TTLMedium   = 300 * time.Second
	TTLLong     = 900 * time.Second
	TTLVeryLong = 3600 * time.Second
	TTLDay      = 86400 * time.Second
)

// DefaultPrefix namespaces entries without an explicit prefix
const DefaultPrefix = "cache"

// Options tune a single cache operation
type Options struct {
	// Prefix overrides DefaultPrefix
	Prefix string
	// TTL overrides the manager's default TTL
	TTL time.Duration
	// Tags are the invalidation groups the entry joins
	Tags []string
}

// Config holds manager settings
type Config struct {
	// DefaultTTL applies when Options.TTL is zero; defaults to TTLMedium
	DefaultTTL time.Duration
	// CallTimeout bounds each store round-trip
	CallTimeout time.Duration
	// CoalesceFetches collapses concurrent same-key misses in Cached into a
	// single fetch. Coalescing is per process only: two application
	// instances missing the same key still fetch independently.
	CoalesceFetches bool
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Manager is the cache facade over the shared store
type Manager struct {
	store       store.KeyValueStore
	defaultTTL  time.Duration
	callTimeout time.Duration
	coalesce    bool
	group       singleflight.Group
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a cache manager on top of the shared store
func New(kv store.KeyValueStore, cfg Config) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = TTLMedium
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		store:       kv,
		defaultTTL:  cfg.DefaultTTL,
		callTimeout: cfg.CallTimeout,
		coalesce:    cfg.CoalesceFetches,
		logger:      cfg.Logger.With("component", "cache"),
		metrics:     cfg.Metrics,
	}
}

// Get reads an entry into dest. It reports false on a miss, after TTL
// expiry, or on any store or decode error; those cases are indistinguishable
// to the caller.
func (m *Manager) Get(ctx context.Context, key string, opts Options, dest any) bool {
	prefix := m.prefix(opts)
	entryKey := entryKey(prefix, key)

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	raw, ok, err := m.store.Get(ctx, entryKey)
	if err != nil {
		m.storeError("get", err)
		m.miss(prefix)
		return false
	}
	if !ok {
		m.miss(prefix)
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		m.logger.Warn("discarding undecodable cache entry", "key", entryKey, "error", err)
		m.miss(prefix)
		return false
	}

	if m.metrics != nil {
		m.metrics.CacheHits.WithLabelValues(prefix).Inc()
	}
	return true
}

// Set serializes value and stores it with a TTL, registering the entry under
// each tag. Each tag set's TTL is raised to at least the entry's TTL so a
// live entry can never outlive its tag index.
func (m *Manager) Set(ctx context.Context, key string, value any, opts Options) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serialize cache entry %s: %w", key, err)
	}

	prefix := m.prefix(opts)
	entryKey := entryKey(prefix, key)
	ttl := m.ttl(opts)

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	if err := m.store.Set(ctx, entryKey, string(data), ttl); err != nil {
		m.storeError("set", err)
		return fmt.Errorf("store cache entry %s: %w", entryKey, err)
	}

	for _, tag := range opts.Tags {
		if err := m.tagEntry(ctx, tag, entryKey, ttl); err != nil {
			m.storeError("tag", err)
			m.logger.Warn("tagging cache entry failed", "key", entryKey, "tag", tag, "error", err)
		}
	}
	return nil
}

// Delete removes a single entry
func (m *Manager) Delete(ctx context.Context, key string, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	entryKey := entryKey(m.prefix(opts), key)
	if err := m.store.Delete(ctx, entryKey); err != nil {
		m.storeError("delete", err)
		return fmt.Errorf("delete cache entry %s: %w", entryKey, err)
	}
	return nil
}

// InvalidateByTag deletes every entry registered under a tag, then the tag
// set itself. Not atomic across members; eventual, not transactional.
func (m *Manager) InvalidateByTag(ctx context.Context, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	tagKey := tagKey(tag)
	members, err := m.store.SMembers(ctx, tagKey)
	if err != nil {
		m.storeError("invalidate_tag", err)
		return fmt.Errorf("read tag %s: %w", tag, err)
	}

	if len(members) > 0 {
		if err := m.store.Delete(ctx, members...); err != nil {
			m.storeError("invalidate_tag", err)
			return fmt.Errorf("invalidate tag %s: %w", tag, err)
		}
	}
	if err := m.store.Delete(ctx, tagKey); err != nil {
		m.storeError("invalidate_tag", err)
		return fmt.Errorf("drop tag set %s: %w", tag, err)
	}

	if m.metrics != nil {
		m.metrics.CacheInvalidations.WithLabelValues("tag").Inc()
	}
	return nil
}

// InvalidateByPattern deletes all entries whose key matches a glob under the
// given prefix. Key listing is O(total keys) on some stores; intended for
// administrative use, not per-request hot paths.
func (m *Manager) InvalidateByPattern(ctx context.Context, pattern string, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	fullPattern := entryKey(m.prefix(opts), pattern)
	keys, err := m.store.Keys(ctx, fullPattern)
	if err != nil {
		m.storeError("invalidate_pattern", err)
		return fmt.Errorf("list keys %s: %w", fullPattern, err)
	}
	if len(keys) > 0 {
		if err := m.store.Delete(ctx, keys...); err != nil {
			m.storeError("invalidate_pattern", err)
			return fmt.Errorf("invalidate pattern %s: %w", fullPattern, err)
		}
	}

	if m.metrics != nil {
		m.metrics.CacheInvalidations.WithLabelValues("pattern").Inc()
	}
	return nil
}

// Cached is the get-or-compute path: on a hit it decodes the entry into
// dest; on a miss it invokes fetch, stores the result, and decodes it into
// dest. Without coalescing, concurrent misses for the same key each invoke
// fetch independently (cache-aside, no per-key lease); enable
// CoalesceFetches to collapse misses within one process.
func (m *Manager) Cached(ctx context.Context, key string, opts Options, dest any, fetch func(ctx context.Context) (any, error)) error {
	if m.Get(ctx, key, opts, dest) {
		return nil
	}

	if !m.coalesce {
		data, err := m.fetchAndStore(ctx, key, opts, fetch)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dest)
	}

	entryKey := entryKey(m.prefix(opts), key)
	v, err, _ := m.group.Do(entryKey, func() (any, error) {
		return m.fetchAndStore(ctx, key, opts, fetch)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dest)
}

// fetchAndStore computes the value and writes it back, returning the
// serialized form so coalesced waiters can decode it independently
func (m *Manager) fetchAndStore(ctx context.Context, key string, opts Options, fetch func(ctx context.Context) (any, error)) ([]byte, error) {
	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("serialize cache entry %s: %w", key, err)
	}

	// A failed write-back degrades to an uncached response, never an error
	if err := m.Set(ctx, key, value, opts); err != nil {
		m.logger.Warn("cache write-back failed", "key", key, "error", err)
	}
	return data, nil
}

// tagEntry adds the entry to the tag set and raises the set's TTL when the
// new member outlives it
func (m *Manager) tagEntry(ctx context.Context, tag, entryKey string, ttl time.Duration) error {
	tagKey := tagKey(tag)
	if err := m.store.SAdd(ctx, tagKey, entryKey); err != nil {
		return err
	}

	current, err := m.store.TTL(ctx, tagKey)
	if err != nil {
		return err
	}
	if current < ttl {
		return m.store.Expire(ctx, tagKey, ttl)
	}
	return nil
}

func (m *Manager) prefix(opts Options) string {
	if opts.Prefix != "" {
		return opts.Prefix
	}
	return DefaultPrefix
}

func (m *Manager) ttl(opts Options) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	return m.defaultTTL
}

func (m *Manager) miss(prefix string) {
	if m.metrics != nil {
		m.metrics.CacheMisses.WithLabelValues(prefix).Inc()
	}
}

func (m *Manager) storeError(op string, err error) {
	if m.metrics != nil {
		m.metrics.StoreErrors.WithLabelValues("cache").Inc()
	}
	m.logger.Debug("cache store error", "op", op, "error", err)
}

func entryKey(prefix, key string) string {
	return fmt.Sprintf("%s:%s", prefix, key)
}

func tagKey(tag string) string {
	return fmt.Sprintf("tag:%s", tag)
}
