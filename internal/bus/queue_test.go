package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pourquoi/tradebot/internal/model"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(8)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Publish(ctx, *tradeEvent(i).Market))
	}
	q.Close()

	var seen []uint64
	q.Run(ctx, func(e model.MarketEvent) {
		seen = append(seen, e.Trade.ID)
	})
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seen)
}

func TestQueueTryPublishFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(*tradeEvent(1).Market))
	assert.ErrorIs(t, q.TryPublish(*tradeEvent(2).Market), ErrQueueFull)
}

func TestQueuePublishBlocksUntilDrained(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, *tradeEvent(1).Market))

	done := make(chan error, 1)
	go func() {
		done <- q.Publish(ctx, *tradeEvent(2).Market)
	}()

	select {
	case <-done:
		t.Fatal("publish returned while queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go q.Run(runCtx, func(model.MarketEvent) {})
	require.NoError(t, <-done)
	cancel()
}

func TestQueuePublishCancelled(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(*tradeEvent(1).Market))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, *tradeEvent(2).Market), context.DeadlineExceeded)
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	assert.ErrorIs(t, q.Publish(context.Background(), *tradeEvent(1).Market), ErrQueueClosed)
	assert.ErrorIs(t, q.TryPublish(*tradeEvent(1).Market), ErrQueueClosed)
}
