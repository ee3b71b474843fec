package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whisper-link/internal/models"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConversationDocument is the summary stored per user pair
type ConversationDocument struct {
	ID                   string         `bson:"_id"`
	Users                []string       `bson:"users"`
	LastMessage          string         `bson:"lastMessage"`
	LastMessageTimestamp time.Time      `bson:"lastMessageTimestamp"`
	UnreadCount          map[string]int `bson:"unreadCount"`
	CreatedAt            time.Time      `bson:"createdAt"`
}

func (doc ConversationDocument) toModel() (*models.Conversation, error) {
	users := make([]uuid.UUID, 0, len(doc.Users))
	for _, idStr := range doc.Users {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid participant ID in conversation %s: %w", doc.ID, err)
		}
		users = append(users, id)
	}
	unread := make(map[string]int, len(doc.UnreadCount))
	for k, v := range doc.UnreadCount {
		unread[k] = v
	}
	return &models.Conversation{
		ID:                   doc.ID,
		Users:                users,
		LastMessage:          doc.LastMessage,
		LastMessageTimestamp: doc.LastMessageTimestamp,
		UnreadCount:          unread,
		CreatedAt:            doc.CreatedAt,
	}, nil
}

func (m *MongoDB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var doc ConversationDocument
	err := m.Conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewAppError(utils.ErrConversationNotFound, "Conversation not found", err)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to fetch conversation", err)
	}
	return doc.toModel()
}

// ListConversations returns every conversation the user participates in
func (m *MongoDB) ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	cursor, err := m.Conversations.Find(ctx, bson.M{"users": userID.String()})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to list conversations", err)
	}
	defer cursor.Close(ctx)

	var conversations []*models.Conversation
	for cursor.Next(ctx) {
		var doc ConversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		conv, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, cursor.Err()
}

// ApplySend upserts the conversation summary and inserts the message in one
// transaction. On insert the sender's counter starts at 0 and the recipient's
// $inc yields 1; on update only the recipient's counter moves.
func (m *MongoDB) ApplySend(ctx context.Context, batch SendBatch) (bool, error) {
	session, err := m.Client.StartSession()
	if err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "Failed to start session", err)
	}
	defer session.EndSession(ctx)

	sender := batch.SenderID.String()
	recipient := batch.RecipientID.String()
	msg := batch.Message

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		update := bson.M{
			"$setOnInsert": bson.M{
				"users":                 []string{sender, recipient},
				"createdAt":             msg.CreatedAt,
				"unreadCount." + sender: 0,
			},
			"$set": bson.M{
				"lastMessage":          msg.Text,
				"lastMessageTimestamp": msg.CreatedAt,
			},
			"$inc": bson.M{"unreadCount." + recipient: 1},
		}
		res, err := m.Conversations.UpdateOne(sc, bson.M{"_id": batch.ConversationID}, update, options.Update().SetUpsert(true))
		if err != nil {
			return nil, fmt.Errorf("failed to upsert conversation: %w", err)
		}
		if _, err := m.Messages.InsertOne(sc, toMessageDocument(msg)); err != nil {
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}
		return res.UpsertedCount > 0, nil
	})
	if err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "Failed to send message", err)
	}
	return result.(bool), nil
}

func (m *MongoDB) ResetUnread(ctx context.Context, conversationID string, userID uuid.UUID) error {
	_, err := m.Conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"unreadCount." + userID.String(): 0}},
	)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "Failed to reset unread count", err)
	}
	return nil
}

func (m *MongoDB) UpdatePreview(ctx context.Context, conversationID string, text string, ts time.Time) error {
	result, err := m.Conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"lastMessage": text, "lastMessageTimestamp": ts}},
	)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "Failed to update conversation preview", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewAppError(utils.ErrConversationNotFound, "Conversation not found", nil)
	}
	return nil
}
