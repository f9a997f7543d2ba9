// Package event provides a typed fan-out feed for state-change events.
package event

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Feed delivers values to every subscriber without blocking the sender.
// A subscriber whose buffer is full misses the value.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	buffer int
	closed bool
	logger *slog.Logger
	name   string
}

// NewFeed creates a feed. buffer <= 0 uses DefaultBuffer.
func NewFeed[T any](name string, buffer int, logger *slog.Logger) *Feed[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
		logger: logger,
		name:   name,
	}
}

// Subscribe returns a channel of future values and a cancel func.
// Cancel is idempotent and closes the channel.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, f.buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.next
	f.next++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// Publish sends v to all subscribers.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subs {
		select {
		case ch <- v:
		default:
			f.logger.Warn("subscriber buffer full, dropping event",
				"feed", f.name,
				"subscriber", id,
			)
		}
	}
}

// Len returns the number of active subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}
