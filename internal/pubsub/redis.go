package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus shares events between server nodes through Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	rdb *redis.Client
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects to the Redis server at url (redis://host:port/db).
func NewRedisBus(ctx context.Context, url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Printf("PubSub: connected to redis at %s", opts.Addr)
	return &RedisBus{rdb: rdb}, nil
}

// NewRedisBusFromClient wraps an existing client.
func NewRedisBusFromClient(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, event Event) error {
	event.Topic = topic
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topics...)
	// Wait for the subscription confirmation so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.run(ctx)
	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event

	once sync.Once
	done chan struct{}
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.events)
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("PubSub: dropping malformed event on %s: %v", msg.Channel, err)
				continue
			}
			if event.Topic == "" {
				event.Topic = msg.Channel
			}
			select {
			case s.events <- event:
			default:
			}
		}
	}
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
