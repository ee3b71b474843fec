package pubsub

import (
	"context"
	"sync"
)

// LocalBus is an in-process Bus for single-node deployments and tests.
type LocalBus struct {
	mu     sync.RWMutex
	topics map[string]map[*localSubscription]struct{}
	closed bool
}

var _ Bus = (*LocalBus)(nil)

func NewLocalBus() *LocalBus {
	return &LocalBus{
		topics: make(map[string]map[*localSubscription]struct{}),
	}
}

type localSubscription struct {
	bus    *LocalBus
	topics []string
	events chan Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (b *LocalBus) Publish(ctx context.Context, topic string, event Event) error {
	event.Topic = topic

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[topic] {
		sub.deliver(event)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	sub := &localSubscription{
		bus:    b,
		topics: topics,
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.closed = true
		close(sub.done)
		close(sub.events)
		return sub, nil
	}
	for _, topic := range topics {
		subs, ok := b.topics[topic]
		if !ok {
			subs = make(map[*localSubscription]struct{})
			b.topics[topic] = subs
		}
		subs[sub] = struct{}{}
	}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Close ends every open subscription.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	var all []*localSubscription
	seen := make(map[*localSubscription]bool)
	for _, subs := range b.topics {
		for sub := range subs {
			if !seen[sub] {
				seen[sub] = true
				all = append(all, sub)
			}
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	return nil
}

func (s *localSubscription) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

func (s *localSubscription) Events() <-chan Event {
	return s.events
}

func (s *localSubscription) Close() error {
	s.bus.mu.Lock()
	for _, topic := range s.topics {
		if subs, ok := s.bus.topics[topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.topics, topic)
			}
		}
	}
	s.bus.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.events)
	return nil
}
