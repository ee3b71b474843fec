package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmptyConversationPreview is shown once every message of a conversation is deleted.
const EmptyConversationPreview = "Chat started"

// Conversation is the summary document shared by exactly two users.
type Conversation struct {
	ID                   string         `json:"id"`
	Users                []uuid.UUID    `json:"users"`
	LastMessage          string         `json:"lastMessage"`
	LastMessageTimestamp time.Time      `json:"lastMessageTimestamp"`
	UnreadCount          map[string]int `json:"unreadCount"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// ConversationID derives the conversation identifier from the two participant
// ids. The result does not depend on argument order.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// ConversationIDFor is ConversationID for uuid participants.
func ConversationIDFor(a, b uuid.UUID) string {
	return ConversationID(a.String(), b.String())
}

// Unread returns the unread counter for the given user, never negative.
func (c *Conversation) Unread(userID uuid.UUID) int {
	if c == nil || c.UnreadCount == nil {
		return 0
	}
	if n := c.UnreadCount[userID.String()]; n > 0 {
		return n
	}
	return 0
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, id := range c.Users {
		if id == userID {
			return true
		}
	}
	return false
}
