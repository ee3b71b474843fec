// Package chat implements one-to-one conversations: the send/edit/delete
// operations on the store, live conversation views and the user roster.
package chat

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"whisper-link/internal/database"
	"whisper-link/internal/models"
	"whisper-link/internal/notify"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
)

const pushTimeout = 10 * time.Second

type SendRequest struct {
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Text        string
	ReplyToID   *uuid.UUID
}

type SendResult struct {
	Message *models.Message `json:"message"`
	Created bool            `json:"created"`
}

type EditRequest struct {
	ConversationID string
	MessageID      uuid.UUID
	EditorID       uuid.UUID
	Text           string
}

type DeleteRequest struct {
	ConversationID string
	MessageID      uuid.UUID
	RequesterID    uuid.UUID
}

// Service applies conversation writes to the store and announces them on the bus.
type Service struct {
	store    database.Store
	bus      pubsub.Bus
	notifier notify.Notifier
	metrics  *utils.MetricsCollector

	clockMu sync.Mutex
	now     func() time.Time
	last    time.Time
}

func NewService(store database.Store, bus pubsub.Bus, notifier notify.Notifier, metrics *utils.MetricsCollector) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if metrics == nil {
		metrics = utils.NewMetricsCollector()
	}
	return &Service{
		store:    store,
		bus:      bus,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// timestamp returns a millisecond-precision time that is strictly after the
// previous one handed out, so messages sent through this node keep their order.
func (s *Service) timestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := s.now().UTC().Truncate(time.Millisecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}

func (s *Service) SendMessage(ctx context.Context, req SendRequest) (res *SendResult, err error) {
	defer func(start time.Time) { s.metrics.Track("SendMessage", start, err) }(time.Now())

	if strings.TrimSpace(req.Text) == "" {
		return nil, utils.NewInvalidInputError("Message text cannot be empty")
	}
	if req.SenderID == req.RecipientID {
		return nil, utils.NewInvalidInputError("Cannot send a message to yourself")
	}

	sender, err := s.store.GetUser(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.store.GetUser(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}

	convID := models.ConversationIDFor(sender.ID, recipient.ID)
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		Text:           req.Text,
		SenderID:       sender.ID,
		CreatedAt:      s.timestamp(),
		Status:         models.StatusDelivered,
	}

	if req.ReplyToID != nil {
		original, err := s.store.GetMessage(ctx, convID, *req.ReplyToID)
		if err != nil {
			return nil, err
		}
		senderName := recipient.Name()
		if original.SenderID == sender.ID {
			senderName = sender.Name()
		}
		msg.ReplyTo = &models.ReplyRef{
			MessageID:  original.ID,
			Text:       original.Text,
			SenderID:   original.SenderID,
			SenderName: senderName,
		}
	}

	created, err := s.store.ApplySend(ctx, database.SendBatch{
		ConversationID: convID,
		SenderID:       sender.ID,
		RecipientID:    recipient.ID,
		Message:        msg,
	})
	if err != nil {
		log.Printf("ChatService: send in %s failed: %v", convID, err)
		return nil, err
	}

	s.publish(ctx, pubsub.ConversationTopic(convID), pubsub.KindMessageAdded, msg.ID.String())
	s.publishRoster(ctx, convID, sender.ID, recipient.ID)
	go s.push(recipient.PushToken, sender.Name(), msg.Text)

	return &SendResult{Message: msg, Created: created}, nil
}

func (s *Service) EditMessage(ctx context.Context, req EditRequest) (msg *models.Message, err error) {
	defer func(start time.Time) { s.metrics.Track("EditMessage", start, err) }(time.Now())

	if strings.TrimSpace(req.Text) == "" {
		return nil, utils.NewInvalidInputError("Message text cannot be empty")
	}

	msg, err = s.store.GetMessage(ctx, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != req.EditorID {
		return nil, utils.NewForbiddenError("only the sender can edit a message")
	}

	if err := s.store.UpdateMessageText(ctx, req.ConversationID, req.MessageID, req.Text); err != nil {
		return nil, err
	}
	msg.Text = req.Text
	msg.IsEdited = true

	latest, err := s.store.LatestMessage(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.ID == msg.ID {
		if err := s.store.UpdatePreview(ctx, req.ConversationID, req.Text, latest.CreatedAt); err != nil {
			return nil, err
		}
		s.publishConversationRoster(ctx, req.ConversationID)
	}

	s.publish(ctx, pubsub.ConversationTopic(req.ConversationID), pubsub.KindMessageUpdated, msg.ID.String())
	return msg, nil
}

func (s *Service) DeleteMessage(ctx context.Context, req DeleteRequest) (err error) {
	defer func(start time.Time) { s.metrics.Track("DeleteMessage", start, err) }(time.Now())

	msg, err := s.store.GetMessage(ctx, req.ConversationID, req.MessageID)
	if err != nil {
		return err
	}
	if msg.SenderID != req.RequesterID {
		return utils.NewForbiddenError("only the sender can delete a message")
	}

	latest, err := s.store.LatestMessage(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, req.ConversationID, req.MessageID); err != nil {
		return err
	}

	if latest != nil && latest.ID == msg.ID {
		next, err := s.store.LatestMessage(ctx, req.ConversationID)
		if err != nil {
			return err
		}
		text, ts := models.EmptyConversationPreview, s.timestamp()
		if next != nil {
			text, ts = next.Text, next.CreatedAt
		}
		if err := s.store.UpdatePreview(ctx, req.ConversationID, text, ts); err != nil {
			return err
		}
		s.publishConversationRoster(ctx, req.ConversationID)
	}

	s.publish(ctx, pubsub.ConversationTopic(req.ConversationID), pubsub.KindMessageDeleted, msg.ID.String())
	return nil
}

// MarkRead moves the listed messages authored by the other participant to
// read. Messages already read, or sent by the viewer, are skipped.
func (s *Service) MarkRead(ctx context.Context, conversationID string, viewerID uuid.UUID, messageIDs []uuid.UUID) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	wanted := make(map[uuid.UUID]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	var batch []uuid.UUID
	for _, msg := range messages {
		if wanted[msg.ID] && msg.SenderID != viewerID && msg.Status.CanAdvanceTo(models.StatusRead) {
			batch = append(batch, msg.ID)
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}

	n, err := s.store.MarkMessagesRead(ctx, conversationID, batch)
	if err != nil {
		log.Printf("ChatService: marking %d messages read in %s failed: %v", len(batch), conversationID, err)
		return 0, err
	}
	if n > 0 {
		s.publish(ctx, pubsub.ConversationTopic(conversationID), pubsub.KindMessageUpdated, "")
	}
	return n, nil
}

// ResetUnread zeroes the viewer's unread counter. A conversation that does
// not exist yet, or a counter already at zero, is left alone.
func (s *Service) ResetUnread(ctx context.Context, conversationID string, viewerID uuid.UUID) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if utils.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if conv.Unread(viewerID) == 0 {
		return nil
	}
	if err := s.store.ResetUnread(ctx, conversationID, viewerID); err != nil {
		return err
	}
	s.publish(ctx, pubsub.RosterTopic(viewerID.String()), pubsub.KindConversationUpdated, conversationID)
	return nil
}

// Messages returns the conversation ordered oldest first.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	return s.store.ListMessages(ctx, conversationID)
}

func (s *Service) publish(ctx context.Context, topic, kind, id string) {
	if err := s.bus.Publish(ctx, topic, pubsub.Event{Kind: kind, ID: id}); err != nil {
		log.Printf("ChatService: publish %s on %s failed: %v", kind, topic, err)
	}
}

func (s *Service) publishRoster(ctx context.Context, conversationID string, users ...uuid.UUID) {
	for _, id := range users {
		s.publish(ctx, pubsub.RosterTopic(id.String()), pubsub.KindConversationUpdated, conversationID)
	}
}

func (s *Service) publishConversationRoster(ctx context.Context, conversationID string) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		log.Printf("ChatService: cannot announce %s: %v", conversationID, err)
		return
	}
	s.publishRoster(ctx, conversationID, conv.Users...)
}

func (s *Service) push(token, title, body string) {
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, token, title, body); err != nil {
		log.Printf("ChatService: push notification failed: %v", err)
	}
}
