package usecase

import (
	"context"
	"time"
)

// Locker serializes work on a single key across processes. The Redis locker
// satisfies it; a nil Locker means the database guard stands alone.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Limiter is a fixed-window rate limiter keyed by caller and action.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func purchaseLockKey(purchaseID string) string { return "purchase:lock:" + purchaseID }

func trialLimitKey(userID string) string { return "rate_limit:" + userID + ":trial" }
