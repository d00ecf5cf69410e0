// Package csrf manages per-session anti-forgery tokens in the shared store.
//
// At most one token is valid per session: issuing a new token overwrites the
// previous one immediately. Validation fails closed: on any store error the
// token is treated as invalid, the opposite posture from the rate limiter,
// because this is a security gate rather than an availability one.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Drasasse/gestion-commerce-sub000/internal/store"
	"github.com/Drasasse/gestion-commerce-sub000/pkg/metrics"
)

const (
	// DefaultTokenLength is the number of random bytes per token
	DefaultTokenLength = 32
	// DefaultTTL is the token lifetime
	DefaultTTL = time.Hour
)

// Config holds guard settings
type Config struct {
	// TokenLength is the number of random bytes per token; the issued token
	// string is its hex encoding
	TokenLength int
	// TTL is the token lifetime
	TTL time.Duration
	// CallTimeout bounds each store round-trip
	CallTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Guard issues, validates, and refreshes session CSRF tokens
type Guard struct {
	store       store.KeyValueStore
	tokenLength int
	ttl         time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a guard on top of the shared store
func New(kv store.KeyValueStore, cfg Config) *Guard {
	if cfg.TokenLength <= 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Guard{
		store:       kv,
		tokenLength: cfg.TokenLength,
		ttl:         cfg.TTL,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger.With("component", "csrf"),
		metrics:     cfg.Metrics,
	}
}

// Generate issues a fresh random token for the session and stores it,
// replacing any previous token. The caller embeds the returned token in the
// client page or response.
func (g *Guard) Generate(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}

	buf := make([]byte, g.tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := hex.EncodeToString(buf)

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	if err := g.store.Set(ctx, tokenKey(sessionID), token, g.ttl); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return token, nil
}

// Validate compares a supplied token against the session's stored token. It
// returns false on mismatch, absence, expiry, or store error.
func (g *Guard) Validate(ctx context.Context, sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	stored, ok, err := g.store.Get(ctx, tokenKey(sessionID))
	if err != nil {
		// Fail closed
		g.logger.Error("store error during csrf validation", "session", sessionID, "error", err)
		if g.metrics != nil {
			g.metrics.StoreErrors.WithLabelValues("csrf").Inc()
		}
		return false
	}
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1
}

// Refresh rotates the session's token: the old token stops validating
// immediately and the new one is returned. Used after suspected leakage or
// on a fixed rotation policy.
func (g *Guard) Refresh(ctx context.Context, sessionID string) (string, error) {
	if err := g.Revoke(ctx, sessionID); err != nil {
		return "", err
	}
	return g.Generate(ctx, sessionID)
}

// Revoke deletes the session's token, used on logout
func (g *Guard) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	if err := g.store.Delete(ctx, tokenKey(sessionID)); err != nil {
		return fmt.Errorf("revoke csrf token: %w", err)
	}
	return nil
}

func tokenKey(sessionID string) string {
	return fmt.Sprintf("csrf:%s", sessionID)
}
