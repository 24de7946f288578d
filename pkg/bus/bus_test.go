package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Capacity(t *testing.T) {
	assert.Equal(t, 4, New[int](4).Cap())
	assert.Equal(t, DefaultCapacity, New[int](0).Cap())
}

func TestBus_FIFO(t *testing.T) {
	b := New[int](8)
	ctx := context.Background()

	for i := range 8 {
		require.NoError(t, b.Send(ctx, i))
	}
	assert.Equal(t, 8, b.Len())

	for i := range 8 {
		v, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, b.Len())
}

func TestBus_TrySend(t *testing.T) {
	b := New[string](1)
	assert.True(t, b.TrySend("a"))
	assert.False(t, b.TrySend("b"))

	v, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestBus_BackpressureSuspendsProducer(t *testing.T) {
	const capacity = 4
	b := New[int](capacity)
	ctx := context.Background()

	for i := range capacity {
		require.NoError(t, b.Send(ctx, i))
	}

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		assert.NoError(t, b.Send(ctx, capacity))
	}()

	select {
	case <-sent:
		t.Fatal("send on a full bus must wait for a receive")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, capacity, b.Len())

	v, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("producer not released after a slot was freed")
	}

	// Nothing was dropped: 1..capacity remain, in order.
	for want := 1; want <= capacity; want++ {
		got, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestBus_SendCancelled(t *testing.T) {
	b := New[int](1)
	require.NoError(t, b.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Send(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.Len())
}

func TestBus_ReceiveCancelled(t *testing.T) {
	b := New[int](1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBus_ConcurrentProducerConsumer(t *testing.T) {
	const total = 1000
	b := New[int](3)
	ctx := context.Background()

	go func() {
		for i := range total {
			if err := b.Send(ctx, i); err != nil {
				return
			}
		}
		b.Close()
	}()

	next := 0
	for {
		v, err := b.Receive(ctx)
		if err != nil {
			assert.ErrorIs(t, err, ErrClosed)
			break
		}
		assert.Equal(t, next, v)
		next++
	}
	assert.Equal(t, total, next)
}
