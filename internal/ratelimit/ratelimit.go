// Package ratelimit implements the tiered sliding-window rate limiter shared
// by all application instances through the key-value store.
//
// Each (tier, identifier) pair owns one counter key whose TTL equals the
// tier's window, so exhausted windows decay naturally on the store side. The
// limiter itself holds no durable state, which is what allows horizontal
// scaling of the application tier.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Drasasse/gestion-commerce-sub000/internal/store"
	"github.com/Drasasse/gestion-commerce-sub000/pkg/metrics"
)

// Tier selects a rate-limit budget
type Tier string

const (
	// TierLogin throttles authentication attempts
	TierLogin Tier = "login"
	// TierAPI covers general authenticated API traffic
	TierAPI Tier = "api"
	// TierSensitive covers mutating and otherwise sensitive calls
	TierSensitive Tier = "sensitive"
)

// Budget is the (maxRequests, window) pair of a tier
type Budget struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultBudgets returns the standard per-tier budgets
func DefaultBudgets() map[Tier]Budget {
	return map[Tier]Budget{
		TierLogin:     {MaxRequests: 5, Window: time.Minute},
		TierAPI:       {MaxRequests: 100, Window: time.Minute},
		TierSensitive: {MaxRequests: 10, Window: time.Minute},
	}
}

// FailurePolicy names the posture applied when the store is unreachable.
// Making it an explicit value keeps the safety asymmetry between components
// visible in code review instead of buried in error handling.
type FailurePolicy string

const (
	// FailOpen allows the operation on store failure
	FailOpen FailurePolicy = "allow"
	// FailClosed denies the operation on store failure
	FailClosed FailurePolicy = "deny"
)

// Decision is the outcome of one rate-limit check. Derived per call, never
// persisted.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Config holds limiter settings
type Config struct {
	// Budgets overrides the default per-tier budgets
	Budgets map[Tier]Budget
	// OnStoreError is the failure posture; defaults to FailOpen because
	// abuse protection is a defense-in-depth layer, not the sole gate
	OnStoreError FailurePolicy
	// CallTimeout bounds each store round-trip
	CallTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Limiter computes allow/deny decisions for (tier, identifier) pairs
type Limiter struct {
	store        store.KeyValueStore
	onStoreError FailurePolicy
	callTimeout  time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu      sync.RWMutex
	budgets map[Tier]Budget
}

// New creates a limiter on top of the shared store
func New(kv store.KeyValueStore, cfg Config) *Limiter {
	budgets := cfg.Budgets
	if len(budgets) == 0 {
		budgets = DefaultBudgets()
	}
	if cfg.OnStoreError == "" {
		cfg.OnStoreError = FailOpen
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Limiter{
		store:        kv,
		budgets:      budgets,
		onStoreError: cfg.OnStoreError,
		callTimeout:  cfg.CallTimeout,
		logger:       cfg.Logger.With("component", "ratelimit"),
		metrics:      cfg.Metrics,
	}
}

// SetBudgets swaps the per-tier budgets, used by config hot reload
func (l *Limiter) SetBudgets(budgets map[Tier]Budget) {
	if len(budgets) == 0 {
		return
	}
	l.mu.Lock()
	l.budgets = budgets
	l.mu.Unlock()
}

// Budget returns the budget applied to a tier
func (l *Limiter) Budget(tier Tier) Budget {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.budgets[tier]; ok {
		return b
	}
	// Unknown tiers fall back to the general API budget
	return l.budgets[TierAPI]
}

// Limit records one request for (tier, identifier) and decides whether it is
// allowed. The counter increment is a single atomic store operation, so the
// check stays race-free across concurrent instances. A store failure applies
// the configured posture and never propagates to the caller.
func (l *Limiter) Limit(ctx context.Context, tier Tier, identifier string) Decision {
	if identifier == "" {
		identifier = "unknown"
	}

	budget := l.Budget(tier)
	key := counterKey(tier, identifier)

	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	count, err := l.store.Increment(ctx, key, budget.Window)
	if err != nil {
		return l.onError(tier, identifier, budget, err)
	}

	resetAt := time.Now().Add(budget.Window)
	if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
		resetAt = time.Now().Add(ttl)
	}

	decision := Decision{
		Allowed:   count <= int64(budget.MaxRequests),
		Limit:     budget.MaxRequests,
		Remaining: remaining(budget.MaxRequests, count),
		ResetAt:   resetAt,
	}

	if l.metrics != nil {
		if decision.Allowed {
			l.metrics.RateLimitAllowed.WithLabelValues(string(tier)).Inc()
		} else {
			l.metrics.RateLimitRejected.WithLabelValues(string(tier)).Inc()
		}
	}

	return decision
}

// onError converts a store failure into a decision according to the policy
func (l *Limiter) onError(tier Tier, identifier string, budget Budget, err error) Decision {
	l.logger.Error("store error during rate limit check",
		"tier", tier,
		"identifier", identifier,
		"policy", l.onStoreError,
		"error", err,
	)
	if l.metrics != nil {
		l.metrics.StoreErrors.WithLabelValues("ratelimit").Inc()
	}

	allowed := l.onStoreError == FailOpen
	remaining := 0
	if allowed {
		remaining = budget.MaxRequests
	}

	return Decision{
		Allowed:   allowed,
		Limit:     budget.MaxRequests,
		Remaining: remaining,
		ResetAt:   time.Now().Add(budget.Window),
	}
}

func counterKey(tier Tier, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", tier, identifier)
}

func remaining(max int, count int64) int {
	r := max - int(count)
	if r < 0 {
		return 0
	}
	return r
}
