package actors

import (
	stdctx "context"
	"log"
	"time"

	"whisper-link/internal/chat"
	"whisper-link/internal/models"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types for ConversationSupervisor. Every message names the acting
// user and the peer; together they identify the conversation.
type (
	SendMessageMsg struct {
		SenderID    uuid.UUID
		RecipientID uuid.UUID
		Text        string
		ReplyToID   *uuid.UUID
	}

	EditMessageMsg struct {
		EditorID  uuid.UUID
		PeerID    uuid.UUID
		MessageID uuid.UUID
		Text      string
	}

	DeleteMessageMsg struct {
		RequesterID uuid.UUID
		PeerID      uuid.UUID
		MessageID   uuid.UUID
	}

	GetMessagesMsg struct {
		ViewerID uuid.UUID
		PeerID   uuid.UUID
	}

	// MarkReadMsg marks the peer's messages read and resets the viewer's
	// unread counter. An empty MessageIDs covers the whole conversation.
	MarkReadMsg struct {
		ViewerID   uuid.UUID
		PeerID     uuid.UUID
		MessageIDs []uuid.UUID
	}
)

type MarkReadResult struct {
	Marked int `json:"marked"`
}

type conversationMsg interface {
	conversationID() string
}

func (m *SendMessageMsg) conversationID() string {
	return models.ConversationIDFor(m.SenderID, m.RecipientID)
}

func (m *EditMessageMsg) conversationID() string {
	return models.ConversationIDFor(m.EditorID, m.PeerID)
}

func (m *DeleteMessageMsg) conversationID() string {
	return models.ConversationIDFor(m.RequesterID, m.PeerID)
}

func (m *GetMessagesMsg) conversationID() string {
	return models.ConversationIDFor(m.ViewerID, m.PeerID)
}

func (m *MarkReadMsg) conversationID() string {
	return models.ConversationIDFor(m.ViewerID, m.PeerID)
}

// ConversationSupervisor routes each request to the child actor owning its
// conversation, spawning children on demand. Writes to one conversation are
// therefore applied one at a time on this node.
type ConversationSupervisor struct {
	service  *chat.Service
	timeout  time.Duration
	children map[string]*actor.PID
}

func NewConversationSupervisor(service *chat.Service, timeout time.Duration) actor.Actor {
	return &ConversationSupervisor{
		service:  service,
		timeout:  timeout,
		children: make(map[string]*actor.PID),
	}
}

func (s *ConversationSupervisor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case conversationMsg:
		id := msg.conversationID()
		pid, ok := s.children[id]
		if !ok {
			props := actor.PropsFromProducer(func() actor.Actor {
				return NewConversationActor(id, s.service, s.timeout)
			})
			pid = context.Spawn(props)
			s.children[id] = pid
			log.Printf("ConversationSupervisor: spawned actor for %s", id)
		}
		context.Forward(pid)

	case *actor.Terminated:
		for id, pid := range s.children {
			if pid.Equal(msg.Who) {
				delete(s.children, id)
				break
			}
		}
	}
}

// ConversationActor applies the operations of a single conversation.
type ConversationActor struct {
	id      string
	service *chat.Service
	timeout time.Duration
}

func NewConversationActor(id string, service *chat.Service, timeout time.Duration) *ConversationActor {
	return &ConversationActor{id: id, service: service, timeout: timeout}
}

func (a *ConversationActor) Receive(context actor.Context) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), a.timeout)
	defer cancel()

	switch msg := context.Message().(type) {
	case *SendMessageMsg:
		res, err := a.service.SendMessage(ctx, chat.SendRequest{
			SenderID:    msg.SenderID,
			RecipientID: msg.RecipientID,
			Text:        msg.Text,
			ReplyToID:   msg.ReplyToID,
		})
		respond(context, res, err)

	case *EditMessageMsg:
		updated, err := a.service.EditMessage(ctx, chat.EditRequest{
			ConversationID: a.id,
			MessageID:      msg.MessageID,
			EditorID:       msg.EditorID,
			Text:           msg.Text,
		})
		respond(context, updated, err)

	case *DeleteMessageMsg:
		err := a.service.DeleteMessage(ctx, chat.DeleteRequest{
			ConversationID: a.id,
			MessageID:      msg.MessageID,
			RequesterID:    msg.RequesterID,
		})
		respond(context, true, err)

	case *GetMessagesMsg:
		messages, err := a.service.Messages(ctx, a.id)
		respond(context, messages, err)

	case *MarkReadMsg:
		ids := msg.MessageIDs
		if len(ids) == 0 {
			messages, err := a.service.Messages(ctx, a.id)
			if err != nil {
				respond(context, nil, err)
				return
			}
			for _, m := range messages {
				ids = append(ids, m.ID)
			}
		}
		marked, err := a.service.MarkRead(ctx, a.id, msg.ViewerID, ids)
		if err == nil {
			err = a.service.ResetUnread(ctx, a.id, msg.ViewerID)
		}
		respond(context, &MarkReadResult{Marked: marked}, err)
	}
}
