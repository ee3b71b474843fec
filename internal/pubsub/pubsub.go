// Package pubsub carries change notifications between writers and live
// subscriptions. Events only say that something changed; subscribers reload
// the documents they care about from the store.
package pubsub

import (
	"context"
)

// Event kinds
const (
	KindMessageAdded        = "message.added"
	KindMessageUpdated      = "message.updated"
	KindMessageDeleted      = "message.deleted"
	KindConversationUpdated = "conversation.updated"
	KindUserUpdated         = "user.updated"
)

// UsersTopic receives an event whenever any user profile changes.
const UsersTopic = "users"

type Event struct {
	Topic string `json:"topic"`
	Kind  string `json:"kind"`
	ID    string `json:"id,omitempty"`
}

// Bus fans events out to every subscription of a topic.
type Bus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
	Close() error
}

// Subscription delivers events until Close is called or the subscribing
// context ends, after which Events is closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// subscriptionBuffer bounds undelivered events per subscription. When it is
// full newer events are dropped: a pending event already forces a reload.
const subscriptionBuffer = 64

func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// RosterTopic is the per-user topic for changes to that user's conversation summaries.
func RosterTopic(userID string) string {
	return "roster:" + userID
}

// UserTopic is the per-user topic for changes to that user's profile document.
func UserTopic(userID string) string {
	return "user:" + userID
}
