package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/ports/adapter"
)

// Keys written by this package live under KeyPrefix so the payments
// service can share a Redis database with the rest of the LMS.
const (
	KeyPrefix       = "lms-payments:"
	lockPrefix      = KeyPrefix + "lock:"
	rateLimitPrefix = KeyPrefix + "ratelimit:"
)

func lockKey(name string) string { return lockPrefix + name }

var _ adapter.Locker = (*Locker)(nil)

// Locker guards the renewal and expiry sweeps so that only one replica
// runs each job per tick. It is a single-instance SET NX lock; release
// only deletes the key while it still holds the caller's token.
type Locker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *Locker {
	return &Locker{cli: c.cli}
}

// TryLock does not wait: a sweep that loses the race skips its run.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", domain.ErrInvalidArgument
	}
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrLockNotAcquired
	}
	return token, nil
}

var releaseIfOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Unlock is a no-op when the lease expired and another replica took it.
func (l *Locker) Unlock(ctx context.Context, name, token string) error {
	return releaseIfOwned.Run(ctx, l.cli, []string{lockKey(name)}, token).Err()
}
