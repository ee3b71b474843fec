package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the delivery state of a message as seen by its sender.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	return s.rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic: sent -> delivered -> read, never backwards.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Valid() && next.rank() > s.rank()
}

// ReplyRef is a copy of the replied-to message taken when the reply was sent.
// Later edits to the original are not reflected here.
type ReplyRef struct {
	MessageID  uuid.UUID `json:"messageId"`
	Text       string    `json:"text"`
	SenderID   uuid.UUID `json:"senderId"`
	SenderName string    `json:"senderName"`
}

type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID string        `json:"conversationId"`
	Text           string        `json:"text"`
	SenderID       uuid.UUID     `json:"senderId"`
	CreatedAt      time.Time     `json:"createdAt"`
	Status         MessageStatus `json:"status"`
	IsEdited       bool          `json:"isEdited,omitempty"`
	ReplyTo        *ReplyRef     `json:"replyTo,omitempty"`
}
