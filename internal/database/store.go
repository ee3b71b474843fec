package database

import (
	"context"
	"io"
	"time"

	"whisper-link/internal/models"

	"github.com/google/uuid"
)

// UserStore holds user profile documents.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error
	// ExistingUsernames returns which of the candidates are already taken.
	ExistingUsernames(ctx context.Context, candidates []string) (map[string]bool, error)
}

// ConversationStore holds the per-pair summary documents.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error)
	// ApplySend atomically creates or updates the conversation summary and
	// appends the message. created reports whether the summary was new.
	ApplySend(ctx context.Context, batch SendBatch) (created bool, err error)
	// ResetUnread zeroes one participant's counter; a missing conversation is a no-op.
	ResetUnread(ctx context.Context, conversationID string, userID uuid.UUID) error
	UpdatePreview(ctx context.Context, conversationID string, text string, ts time.Time) error
}

// MessageStore holds the messages of every conversation.
type MessageStore interface {
	// ListMessages returns the conversation's messages ordered by creation time ascending.
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	GetMessage(ctx context.Context, conversationID string, id uuid.UUID) (*models.Message, error)
	// LatestMessage returns nil without error when the conversation has no messages.
	LatestMessage(ctx context.Context, conversationID string) (*models.Message, error)
	UpdateMessageText(ctx context.Context, conversationID string, id uuid.UUID, text string) error
	DeleteMessage(ctx context.Context, conversationID string, id uuid.UUID) error
	// MarkMessagesRead moves the given messages to read in one batch and
	// returns how many changed. Messages already read are left untouched.
	MarkMessagesRead(ctx context.Context, conversationID string, ids []uuid.UUID) (int, error)
}

// AvatarStore is binary object storage for profile pictures.
type AvatarStore interface {
	PutAvatar(ctx context.Context, userID uuid.UUID, filename, contentType string, r io.Reader) (string, error)
	OpenAvatar(ctx context.Context, id string) (io.ReadCloser, string, error)
}

// Store is everything the chat backend persists.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
	AvatarStore
	Close(ctx context.Context) error
}

// SendBatch is the unit written by ApplySend.
type SendBatch struct {
	ConversationID string
	SenderID       uuid.UUID
	RecipientID    uuid.UUID
	Message        *models.Message
}
