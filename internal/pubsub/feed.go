// Package pubsub fans snapshots out to subscribers without blocking the publisher.
package pubsub

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Feed delivers published values to every subscriber. A subscriber that falls
// behind loses its oldest values instead of stalling the publisher.
type Feed[T any] struct {
	mu      sync.Mutex
	subs    map[chan T]struct{}
	buffer  int
	dropped uint64
}

// NewFeed creates a feed with the given per-subscriber buffer.
func NewFeed[T any](buffer int) *Feed[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of published values. It is closed when ctx ends.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, f.buffer)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish sends v to every subscriber. A full subscriber loses its oldest
// queued value so the latest one is always delivered.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subs {
		select {
		case ch <- v:
			continue
		default:
		}

		select {
		case <-ch:
			f.dropped++
		default:
		}
		select {
		case ch <- v:
		default:
			f.dropped++
		}
	}
}

// Len returns the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Dropped returns how many queued values were discarded because a subscriber was full.
func (f *Feed[T]) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
