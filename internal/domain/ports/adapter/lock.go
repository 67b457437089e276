package adapter

import (
	"context"
	"time"
)

// Locker is a cross-process mutual exclusion primitive.
// TryLock returns domain.ErrLockNotAcquired when the key is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter is a fixed-window counter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
