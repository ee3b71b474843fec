package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func testBusRoundTrip(t *testing.T, bus Bus) {
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, ConversationTopic("a_b"), UsersTopic)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, ConversationTopic("a_b"), Event{Kind: KindMessageAdded, ID: "m1"}))
	ev := receive(t, sub)
	assert.Equal(t, "conversation:a_b", ev.Topic)
	assert.Equal(t, KindMessageAdded, ev.Kind)
	assert.Equal(t, "m1", ev.ID)

	require.NoError(t, bus.Publish(ctx, UsersTopic, Event{Kind: KindUserUpdated, ID: "u1"}))
	ev = receive(t, sub)
	assert.Equal(t, UsersTopic, ev.Topic)

	require.NoError(t, sub.Close())
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestLocalBusRoundTrip(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()
	testBusRoundTrip(t, bus)
}

func TestLocalBusIgnoresOtherTopics(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, UserTopic("u1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, UserTopic("u2"), Event{Kind: KindUserUpdated}))
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalBusContextCancelClosesSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewLocalBus()
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, RosterTopic("u1"))
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBusFromClient(rdb)
	defer bus.Close()

	testBusRoundTrip(t, bus)
}
