package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New[int](10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}

	for i := 0; i < 5; i++ {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, item)
	}
}

func TestQueue_TryEnqueueFailsFastWhenFull(t *testing.T) {
	q := New[int](2)
	require.NoError(t, q.TryEnqueue(1))
	require.NoError(t, q.TryEnqueue(2))

	err := q.TryEnqueue(3)
	assert.ErrorIs(t, err, ErrFull)
}

func TestQueue_EnqueueBlocksUntilSlotFree(t *testing.T) {
	q := New[int](1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, 1))

	done := make(chan struct{})
	go func() {
		require.NoError(t, q.Enqueue(ctx, 2))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Enqueue should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, item)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue should have unblocked")
	}
}

func TestQueue_DequeueReturnsClosedOnceDrained(t *testing.T) {
	q := New[int](5)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, 1))
	q.Close()

	// Buffered item still drains after close.
	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, item)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_EnqueueFailsAfterClose(t *testing.T) {
	q := New[int](5)
	q.Close()

	err := q.Enqueue(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)

	err = q.TryEnqueue(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_DequeueRespectsContextCancellation(t *testing.T) {
	q := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_Len(t *testing.T) {
	q := New[int](5)
	ctx := context.Background()
	assert.Equal(t, 0, q.Len())
	require.NoError(t, q.Enqueue(ctx, 1))
	require.NoError(t, q.Enqueue(ctx, 2))
	assert.Equal(t, 2, q.Len())
}

func TestQueue_CloseIsIdempotent(t *testing.T) {
	q := New[int](1)
	q.Close()
	assert.NotPanics(t, func() { q.Close() })
}
