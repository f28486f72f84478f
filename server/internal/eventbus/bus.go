// Package eventbus implements the Event Bus (C2): an in-process publish/
// subscribe broker for lifecycle events, fanning out to any number of live
// HTTP/WebSocket subscribers. There is no persistence and no replay —
// reconnecting clients are expected to reconcile via the Store.
package eventbus

import (
	"context"
	"sync"

	"github.com/ccxuy/easyrun/shared/types"
)

// Subscriber receives events for the topics it registered for. Send is
// buffered; a subscriber that falls behind is dropped rather than allowed
// to stall publishers (spec.md §4.2, §9).
type Subscriber struct {
	send   chan types.Event
	topics []string
}

// NewSubscriber creates a Subscriber for the given topics with a bounded
// send buffer.
func NewSubscriber(topics []string, bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Subscriber{send: make(chan types.Event, bufSize), topics: topics}
}

// Events returns the channel events are delivered on. It is closed when the
// subscriber is unregistered.
func (s *Subscriber) Events() <-chan types.Event { return s.send }

// Bus is the central pub/sub broker. All mutations to the subscriber
// registry are made by a single goroutine (Run), fed via channels, which
// holds the write lock for each mutation; Publish takes a short read-lock
// only to copy the target set before sending outside the lock.
type Bus struct {
	subs   map[*Subscriber]struct{}
	topics map[string]map[*Subscriber]struct{}

	mu sync.RWMutex

	register   chan *Subscriber
	unregister chan *Subscriber
}

// New creates an idle Bus. Call Run in a goroutine to start it.
func New() *Bus {
	return &Bus{
		subs:       make(map[*Subscriber]struct{}),
		topics:     make(map[string]map[*Subscriber]struct{}),
		register:   make(chan *Subscriber, 16),
		unregister: make(chan *Subscriber, 16),
	}
}

// Run starts the bus's event loop. Must be called exactly once, in its own
// goroutine; exits when ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case s := <-b.register:
			b.mu.Lock()
			b.subs[s] = struct{}{}
			for _, topic := range s.topics {
				if b.topics[topic] == nil {
					b.topics[topic] = make(map[*Subscriber]struct{})
				}
				b.topics[topic][s] = struct{}{}
			}
			b.mu.Unlock()

		case s := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				for _, topic := range s.topics {
					delete(b.topics[topic], s)
					if len(b.topics[topic]) == 0 {
						delete(b.topics, topic)
					}
				}
				close(s.send)
			}
			b.mu.Unlock()

		case <-ctx.Done():
			b.mu.Lock()
			for s := range b.subs {
				close(s.send)
			}
			b.subs = make(map[*Subscriber]struct{})
			b.topics = make(map[string]map[*Subscriber]struct{})
			b.mu.Unlock()
			return
		}
	}
}

// Publish delivers payload to every subscriber registered for topic.
// Non-blocking: a subscriber whose buffer is full is unregistered instead
// of stalling the publisher.
func (b *Bus) Publish(topic types.EventTopic, payload any) {
	b.mu.RLock()
	targets := b.topics[string(topic)]
	subs := make([]*Subscriber, 0, len(targets))
	for s := range targets {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	ev := types.Event{Topic: topic, Payload: payload}
	for _, s := range subs {
		select {
		case s.send <- ev:
		default:
			b.unregister <- s
		}
	}
}

// Subscribe registers a Subscriber for its declared topics.
func (b *Bus) Subscribe(s *Subscriber) { b.register <- s }

// Unsubscribe removes a Subscriber from the bus.
func (b *Bus) Unsubscribe(s *Subscriber) { b.unregister <- s }

// SubscriberCount returns the number of currently connected subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
