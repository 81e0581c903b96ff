package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marketplace/reviewcore/internal/repository"
)

const lockKeyPrefix = "review:recompute-lock:"

// ErrLockNotAcquired is returned when the lock could not be taken within the
// configured wait.
var ErrLockNotAcquired = errors.New("recompute lock not acquired")

// releaseScript deletes the lock only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a repository.RecomputeLocker shared by every service instance.
// A lock expires after ttl if its holder dies.
type Locker struct {
	client redis.Cmdable
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewLocker creates a locker. Lock polls every 25ms for at most wait.
func NewLocker(client redis.Cmdable, ttl, wait time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

var _ repository.RecomputeLocker = (*Locker)(nil)

// Lock implements repository.RecomputeLocker.
func (l *Locker) Lock(ctx context.Context, productID string) (repository.UnlockFunc, error) {
	key := lockKeyPrefix + productID
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
					return fmt.Errorf("redis release lock: %w", err)
				}
				return nil
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: product %s", ErrLockNotAcquired, productID)
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
