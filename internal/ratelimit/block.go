package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Punitive user blocks are layered on top of the per-window limiter: a block
// is an independent boolean key with its own TTL, used after repeated abuse
// such as failed logins.

// BlockUser blocks a user for the given duration
func (l *Limiter) BlockUser(ctx context.Context, userID string, duration time.Duration) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	if err := l.store.Set(ctx, blockKey(userID), "1", duration); err != nil {
		return fmt.Errorf("block user %s: %w", userID, err)
	}
	if l.metrics != nil {
		l.metrics.UserBlocks.Inc()
	}
	return nil
}

// IsUserBlocked reports whether a user is currently blocked. A store failure
// follows the limiter's fail-open posture and reports not blocked.
func (l *Limiter) IsUserBlocked(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	blocked, err := l.store.Exists(ctx, blockKey(userID))
	if err != nil {
		l.logger.Error("store error during block check", "user", userID, "error", err)
		if l.metrics != nil {
			l.metrics.StoreErrors.WithLabelValues("ratelimit").Inc()
		}
		return l.onStoreError == FailClosed
	}
	return blocked
}

// UnblockUser lifts a user block before its TTL expires
func (l *Limiter) UnblockUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	if err := l.store.Delete(ctx, blockKey(userID)); err != nil {
		return fmt.Errorf("unblock user %s: %w", userID, err)
	}
	return nil
}

func blockKey(userID string) string {
	return fmt.Sprintf("blocked:user:%s", userID)
}
