package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
)

func TestDedupeKey(t *testing.T) {
	assert.Equal(t, "idem:epayco:991:1", DedupeKey("ePayco", "991:1", "991"))
	assert.Equal(t, "idem:daimo:tx:0xabc", DedupeKey("daimo", "  ", "0xabc"))
}

func TestClaimOnlyOnceWithinTTL(t *testing.T) {
	mr, client := testutil.NewTestRedis(t)
	guard := NewGuard(client, 30*time.Second)
	ctx := context.Background()
	key := DedupeKey("epayco", "tx-1:1", "")

	first, err := guard.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, first)

	for i := 0; i < 5; i++ {
		again, err := guard.Claim(ctx, key)
		require.NoError(t, err)
		assert.False(t, again)
	}

	mr.FastForward(31 * time.Second)
	afterTTL, err := guard.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, afterTTL)
}

func TestReleaseAllowsRetry(t *testing.T) {
	_, client := testutil.NewTestRedis(t)
	guard := NewGuard(client, 0)
	ctx := context.Background()

	assert.Equal(t, DefaultTTL, guard.TTL())

	ok, err := guard.Claim(ctx, "idem:daimo:evt-7")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, guard.Release(ctx, "idem:daimo:evt-7"))

	ok, err = guard.Claim(ctx, "idem:daimo:evt-7")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimRejectsEmptyKey(t *testing.T) {
	_, client := testutil.NewTestRedis(t)
	_, err := NewGuard(client, time.Second).Claim(context.Background(), "")
	assert.Error(t, err)
}
