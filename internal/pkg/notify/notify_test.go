package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
)

func TestPublishThenPopIsFIFO(t *testing.T) {
	_, client := testutil.NewTestRedis(t)
	pub := NewRedisPublisher(client, "")
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, Event{Type: EventPaymentCompleted, PaymentID: "p-1", UserID: "42"}))
	require.NoError(t, pub.Publish(ctx, Event{Type: EventPaymentFailed, PaymentID: "p-2", UserID: "43", Reason: "declined"}))

	n, err := pub.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := pub.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "p-1", first.PaymentID)
	assert.False(t, first.OccurredAt.IsZero())

	second, err := pub.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, EventPaymentFailed, second.Type)
	assert.Equal(t, "declined", second.Reason)
}

func TestPopOnEmptyQueue(t *testing.T) {
	_, client := testutil.NewTestRedis(t)
	pub := NewRedisPublisher(client, "test_queue")

	event, err := pub.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, event)
}
