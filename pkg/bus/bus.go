// Package bus implements the bounded hand-off between the acquisition task
// and the inference task.
package bus

import (
	"context"
	"errors"
)

// DefaultCapacity matches the queue depth used on the device.
const DefaultCapacity = 64

// ErrClosed is returned by Receive once the bus is closed and drained.
var ErrClosed = errors.New("bus closed")

// Bus is a single-producer, single-consumer FIFO of bounded capacity.
//
// Send blocks while the bus is full so the producer stalls instead of dropping
// items. Receive blocks while it is empty. Every item is delivered exactly once
// and in order.
type Bus[T any] struct {
	ch chan T
}

// New creates a bus holding at most capacity items.
func New[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus[T]{ch: make(chan T, capacity)}
}

// Send enqueues v, waiting for a free slot. It returns the context error if
// ctx ends first; the item is not enqueued in that case.
func (b *Bus[T]) Send(ctx context.Context, v T) error {
	select {
	case b.ch <- v:
		return nil
	default:
	}

	select {
	case b.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues v only if a slot is free right now.
func (b *Bus[T]) TrySend(v T) bool {
	select {
	case b.ch <- v:
		return true
	default:
		return false
	}
}

// Receive dequeues the oldest item, waiting until one is available.
func (b *Bus[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v, ok := <-b.ch:
		if !ok {
			var zero T
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Close marks the end of the stream. Only the producer may call it, and only
// once; items already queued are still delivered.
func (b *Bus[T]) Close() {
	close(b.ch)
}

// Len returns the number of queued items.
func (b *Bus[T]) Len() int {
	return len(b.ch)
}

// Cap returns the capacity.
func (b *Bus[T]) Cap() int {
	return cap(b.ch)
}
