// Package events provides a simple publish-subscribe event bus used for store
// change notifications and SSE delivery.
package events

import "sync"

const subBufferSize = 8

// Bus is a non-blocking publish-subscribe event bus.
// Channel subscribers that are slow to consume events will have events dropped
// rather than blocking publishers. Function subscribers are called
// synchronously, in no particular order, after the bus lock is released.
type Bus[T any] struct {
	mu    sync.Mutex
	subs  map[string]chan T
	funcs map[string]func(T)
}

// NewBus creates a new event bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{
		subs:  make(map[string]chan T),
		funcs: make(map[string]func(T)),
	}
}

// Subscribe creates a new subscription with the given ID.
// The returned channel will receive published events.
// Call Unsubscribe when done to clean up.
func (b *Bus[T]) Subscribe(id string) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan T, subBufferSize)
	b.subs[id] = ch
	return ch
}

// SubscribeFunc registers fn to be called for every published event.
// fn must not call back into the bus.
func (b *Bus[T]) SubscribeFunc(id string, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.funcs[id] = fn
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	delete(b.funcs, id)
}

// Publish sends an event to all subscribers.
// If a subscriber's channel is full, the event is dropped (non-blocking).
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Drop if subscriber is slow
		}
	}
	funcs := make([]func(T), 0, len(b.funcs))
	for _, fn := range b.funcs {
		funcs = append(funcs, fn)
	}
	b.mu.Unlock()

	for _, fn := range funcs {
		fn(event)
	}
}

// SubscriberCount returns the current number of subscribers of both kinds.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) + len(b.funcs)
}
