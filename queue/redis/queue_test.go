package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/netraven/core/queue"
	qredis "github.com/netraven/core/queue/redis"
)

func newTestBroker(t *testing.T) *qredis.Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := qredis.New(context.Background(), qredis.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestEnqueueClaimAck(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	item := queue.Item{RunID: uuid.New(), JobID: uuid.New(), DeviceID: uuid.New(), Priority: queue.PriorityNormal}
	require.NoError(t, b.Enqueue(ctx, item))

	depth, err := b.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)

	claim, err := b.Claim(ctx, time.Minute, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, item.DeviceID, claim.Item.DeviceID)

	require.NoError(t, b.Ack(ctx, *claim))

	depth, err = b.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, depth)
}

func TestHighPriorityDrainsFirst(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	low := queue.Item{RunID: uuid.New(), DeviceID: uuid.New(), Priority: queue.PriorityLow}
	high := queue.Item{RunID: uuid.New(), DeviceID: uuid.New(), Priority: queue.PriorityHigh}
	require.NoError(t, b.Enqueue(ctx, low))
	require.NoError(t, b.Enqueue(ctx, high))

	claim, err := b.Claim(ctx, time.Minute, 3*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, high.DeviceID, claim.Item.DeviceID)
}

func TestNackRedeliversUntilMaxAttempts(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	item := queue.Item{RunID: uuid.New(), DeviceID: uuid.New(), Priority: queue.PriorityNormal}
	require.NoError(t, b.Enqueue(ctx, item))

	claim, err := b.Claim(ctx, time.Minute, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claim)

	require.NoError(t, b.Nack(ctx, *claim, 3))

	depth, err := b.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth, "item should be redelivered, not dead-lettered, below max attempts")

	claim2, err := b.Claim(ctx, time.Minute, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claim2)
	require.Equal(t, 1, claim2.Item.Attempt)

	// exhaust remaining attempts
	require.NoError(t, b.Nack(ctx, *claim2, 3))
	claim3, err := b.Claim(ctx, time.Minute, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claim3)
	require.NoError(t, b.Nack(ctx, *claim3, 3))

	dl, err := b.DeadLetterLen(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, dl)
}

func TestReapRedeliversExpiredClaims(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	item := queue.Item{RunID: uuid.New(), DeviceID: uuid.New(), Priority: queue.PriorityNormal}
	require.NoError(t, b.Enqueue(ctx, item))

	claim, err := b.Claim(ctx, -time.Second, 2*time.Second) // already-expired visibility
	require.NoError(t, err)
	require.NotNil(t, claim)

	n, err := b.Reap(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	depth, err := b.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)
}
