// Package notify hands payment outcome events to the chat layer, which
// renders and sends the user-facing messages.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"

	// DefaultQueue is the Redis list the chat layer consumes.
	DefaultQueue = "payment_notifications"
)

// Event is one outcome notification. Reason is a generic, user-safe code.
type Event struct {
	Type       string     `json:"type"`
	PaymentID  string     `json:"payment_id"`
	UserID     string     `json:"user_id"`
	PlanID     string     `json:"plan_id"`
	Provider   string     `json:"provider"`
	Reason     string     `json:"reason,omitempty"`
	PeriodEnd  *time.Time `json:"period_end,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Publisher emits events to the UI layer.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher pushes events onto a Redis list.
type RedisPublisher struct {
	client *redis.Client
	queue  string
}

func NewRedisPublisher(client *redis.Client, queue string) *RedisPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisPublisher{client: client, queue: queue}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", event.Type, err)
	}
	if err := p.client.LPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("notify: push %s: %w", event.Type, err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest event. It returns nil, nil on timeout.
func (p *RedisPublisher) Pop(ctx context.Context, timeout time.Duration) (*Event, error) {
	res, err := p.client.BRPop(ctx, timeout, p.queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notify: pop: %w", err)
	}
	// res[0] is the list name
	var event Event
	if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
		return nil, fmt.Errorf("notify: decode: %w", err)
	}
	return &event, nil
}

// Len returns the number of events waiting in the queue.
func (p *RedisPublisher) Len(ctx context.Context) (int64, error) {
	return p.client.LLen(ctx, p.queue).Result()
}
