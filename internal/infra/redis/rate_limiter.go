package redis

import (
	"context"
	"time"

	"lms-payments/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*RateLimiter)(nil)

type counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// RateLimiter throttles discount-code attempts with a fixed window per
// key. The first hit in a window starts its TTL; later hits only count.
type RateLimiter struct {
	client counter
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := rateLimitPrefix + key
	hits, err := r.client.Incr(ctx, k)
	if err != nil {
		return false, err
	}
	if hits == 1 {
		if err := r.client.Expire(ctx, k, window); err != nil {
			return false, err
		}
	}
	return hits <= int64(limit), nil
}
