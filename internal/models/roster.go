package models

import "time"

// RosterEntry is one row of the directory: another user joined with the
// summary of the conversation the viewer has with them, if any.
type RosterEntry struct {
	User                 *User      `json:"user"`
	ConversationID       string     `json:"conversationId"`
	UnreadCount          int        `json:"unreadCount"`
	LastMessage          string     `json:"lastMessage,omitempty"`
	LastMessageTimestamp *time.Time `json:"lastMessageTimestamp,omitempty"`
}
