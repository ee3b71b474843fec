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

// MessageDocument represents the MongoDB document structure for chat messages
type MessageDocument struct {
	ID             string            `bson:"_id"`
	ConversationID string            `bson:"conversationId"`
	Text           string            `bson:"text"`
	SenderID       string            `bson:"senderId"`
	CreatedAt      time.Time         `bson:"createdAt"`
	Status         string            `bson:"status"`
	IsEdited       bool              `bson:"isEdited,omitempty"`
	ReplyTo        *ReplyRefDocument `bson:"replyTo,omitempty"`
}

type ReplyRefDocument struct {
	MessageID  string `bson:"messageId"`
	Text       string `bson:"text"`
	SenderID   string `bson:"senderId"`
	SenderName string `bson:"senderName"`
}

func toMessageDocument(msg *models.Message) MessageDocument {
	doc := MessageDocument{
		ID:             msg.ID.String(),
		ConversationID: msg.ConversationID,
		Text:           msg.Text,
		SenderID:       msg.SenderID.String(),
		CreatedAt:      msg.CreatedAt,
		Status:         string(msg.Status),
		IsEdited:       msg.IsEdited,
	}
	if msg.ReplyTo != nil {
		doc.ReplyTo = &ReplyRefDocument{
			MessageID:  msg.ReplyTo.MessageID.String(),
			Text:       msg.ReplyTo.Text,
			SenderID:   msg.ReplyTo.SenderID.String(),
			SenderName: msg.ReplyTo.SenderName,
		}
	}
	return doc
}

func (doc MessageDocument) toModel() *models.Message {
	// Ids are written by toMessageDocument, so parse failures only come from
	// hand-edited documents and decode to uuid.Nil.
	id, _ := uuid.Parse(doc.ID)
	senderID, _ := uuid.Parse(doc.SenderID)

	msg := &models.Message{
		ID:             id,
		ConversationID: doc.ConversationID,
		Text:           doc.Text,
		SenderID:       senderID,
		CreatedAt:      doc.CreatedAt,
		Status:         models.MessageStatus(doc.Status),
		IsEdited:       doc.IsEdited,
	}
	if doc.ReplyTo != nil {
		replyID, _ := uuid.Parse(doc.ReplyTo.MessageID)
		replySender, _ := uuid.Parse(doc.ReplyTo.SenderID)
		msg.ReplyTo = &models.ReplyRef{
			MessageID:  replyID,
			Text:       doc.ReplyTo.Text,
			SenderID:   replySender,
			SenderName: doc.ReplyTo.SenderName,
		}
	}
	return msg
}

var messageOrder = bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

// ListMessages retrieves a conversation's messages, oldest first
func (m *MongoDB) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	cursor, err := m.Messages.Find(ctx,
		bson.M{"conversationId": conversationID},
		options.Find().SetSort(messageOrder),
	)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to get messages", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*models.Message, 0)
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, doc.toModel())
	}
	return messages, cursor.Err()
}

func (m *MongoDB) GetMessage(ctx context.Context, conversationID string, id uuid.UUID) (*models.Message, error) {
	var doc MessageDocument
	err := m.Messages.FindOne(ctx, bson.M{"_id": id.String(), "conversationId": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to get message", err)
	}
	return doc.toModel(), nil
}

func (m *MongoDB) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	var doc MessageDocument
	err := m.Messages.FindOne(ctx,
		bson.M{"conversationId": conversationID},
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to get latest message", err)
	}
	return doc.toModel(), nil
}

// UpdateMessageText rewrites a message in place and flags it as edited
func (m *MongoDB) UpdateMessageText(ctx context.Context, conversationID string, id uuid.UUID, text string) error {
	result, err := m.Messages.UpdateOne(ctx,
		bson.M{"_id": id.String(), "conversationId": conversationID},
		bson.M{"$set": bson.M{"text": text, "isEdited": true}},
	)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "Failed to update message", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewMessageNotFoundError(id.String())
	}
	return nil
}

func (m *MongoDB) DeleteMessage(ctx context.Context, conversationID string, id uuid.UUID) error {
	result, err := m.Messages.DeleteOne(ctx, bson.M{"_id": id.String(), "conversationId": conversationID})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "Failed to delete message", err)
	}
	if result.DeletedCount == 0 {
		return utils.NewMessageNotFoundError(id.String())
	}
	return nil
}

// MarkMessagesRead updates every listed message that is not yet read
func (m *MongoDB) MarkMessagesRead(ctx context.Context, conversationID string, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}

	result, err := m.Messages.UpdateMany(ctx,
		bson.M{
			"_id":            bson.M{"$in": idStrs},
			"conversationId": conversationID,
			"status":         bson.M{"$ne": string(models.StatusRead)},
		},
		bson.M{"$set": bson.M{"status": string(models.StatusRead)}},
	)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "Failed to mark messages read", err)
	}
	return int(result.ModifiedCount), nil
}
