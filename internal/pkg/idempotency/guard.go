// Package idempotency absorbs provider retry storms with short-lived
// set-if-not-exists claims in Redis.
package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "idem"

	// DefaultTTL is long enough to cover a provider's burst of retries and
	// short enough that a legitimate re-delivery after processing is accepted.
	DefaultTTL = 30 * time.Second
)

// Guard claims dedupe keys. A zero ttl falls back to DefaultTTL.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{client: client, ttl: ttl}
}

// TTL returns the claim lifetime used by Claim.
func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// DedupeKey derives the claim key from the provider event id, falling back
// to the transaction id when the provider sends none.
func DedupeKey(provider, eventID, transactionID string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if id := strings.TrimSpace(eventID); id != "" {
		return fmt.Sprintf("%s:%s:%s", keyPrefix, provider, id)
	}
	return fmt.Sprintf("%s:%s:tx:%s", keyPrefix, provider, strings.TrimSpace(transactionID))
}

// Claim returns true when the caller is the first to present key within the TTL.
func (g *Guard) Claim(ctx context.Context, key string) (bool, error) {
	return g.ClaimFor(ctx, key, g.ttl)
}

// ClaimFor is Claim with an explicit ttl.
func (g *Guard) ClaimFor(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("idempotency: empty key")
	}
	ok, err := g.client.SetNX(ctx, key, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim so the provider's next retry is processed.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("idempotency: release %s: %w", key, err)
	}
	return nil
}
