// Package counter keeps per-provider webhook outcome counters in Redis hashes.
package counter

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "webhook:counters:"

// Webhook outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

type Counter struct {
	client *redis.Client
}

func New(client *redis.Client) *Counter {
	return &Counter{client: client}
}

func key(provider string) string {
	return keyPrefix + provider
}

// Add increments the outcome counter of provider.
func (c *Counter) Add(ctx context.Context, provider, outcome string) error {
	return c.client.HIncrBy(ctx, key(provider), outcome, 1).Err()
}

// Snapshot returns the counters of each provider. Providers without any
// delivery map to an empty set.
func (c *Counter) Snapshot(ctx context.Context, providers ...string) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, len(providers))
	for _, provider := range providers {
		data, err := c.client.HGetAll(ctx, key(provider)).Result()
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int64, len(data))
		for outcome, raw := range data {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			counts[outcome] = n
		}
		out[provider] = counts
	}
	return out, nil
}
