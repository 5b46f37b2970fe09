package counter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAddAndSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "epayco", OutcomeAccepted))
	require.NoError(t, c.Add(ctx, "epayco", OutcomeAccepted))
	require.NoError(t, c.Add(ctx, "epayco", OutcomeDuplicate))
	require.NoError(t, c.Add(ctx, "daimo", OutcomeRejected))

	snap, err := c.Snapshot(ctx, "epayco", "daimo", "paypal")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap["epayco"][OutcomeAccepted])
	assert.Equal(t, int64(1), snap["epayco"][OutcomeDuplicate])
	assert.Equal(t, int64(1), snap["daimo"][OutcomeRejected])
	assert.Empty(t, snap["paypal"])
}
