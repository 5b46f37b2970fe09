// Package locker provides token-owned advisory locks on Redis. A lock is
// released only by the holder that acquired it.
package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is held elsewhere.
var ErrNotAcquired = errors.New("locker: lock not acquired")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
	// retryEvery is the polling step used by Acquire.
	retryEvery time.Duration
}

func New(client *redis.Client) *Locker {
	return &Locker{client: client, retryEvery: 50 * time.Millisecond}
}

// Lock is a held lock.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// PaymentKey is the lock key serializing mutations of one payment.
func PaymentKey(paymentID string) string {
	return "lock:payment:" + paymentID
}

// JobKey is the lock key preventing concurrent runs of a recovery job.
func JobKey(job string) string {
	return "lock:job:" + job
}

// TryAcquire makes a single attempt.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locker: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Acquire polls until the lock is taken or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		}
		lock, err := l.TryAcquire(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
			}
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Key returns the Redis key of the lock.
func (l *Lock) Key() string {
	return l.key
}

// Release deletes the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("locker: release %s: %w", l.key, err)
	}
	return nil
}
