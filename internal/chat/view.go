package chat

import (
	"context"
	"log"

	"whisper-link/internal/models"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
)

// Snapshot is the full, ordered message list of a conversation at one point in time.
type Snapshot struct {
	ConversationID string            `json:"conversationId"`
	PeerID         uuid.UUID         `json:"peerId"`
	Messages       []*models.Message `json:"messages"`
}

// View is a live subscription of one viewer to the conversation with one peer.
// Every change to the conversation triggers a re-sync that marks the peer's
// new messages read, resets the viewer's unread counter and emits a Snapshot.
type View struct {
	svc            *Service
	viewerID       uuid.UUID
	peerID         uuid.UUID
	conversationID string

	sub     pubsub.Subscription
	seen    map[uuid.UUID]struct{}
	updates chan Snapshot
	cancel  context.CancelFunc
	done    chan struct{}
}

// OpenView subscribes viewerID to the conversation with peerID. The view runs
// until Close is called or ctx ends.
func (s *Service) OpenView(ctx context.Context, viewerID, peerID uuid.UUID) (*View, error) {
	if viewerID == peerID {
		return nil, utils.NewInvalidInputError("Cannot open a conversation with yourself")
	}

	ctx, cancel := context.WithCancel(ctx)
	convID := models.ConversationIDFor(viewerID, peerID)
	sub, err := s.bus.Subscribe(ctx, pubsub.ConversationTopic(convID))
	if err != nil {
		cancel()
		return nil, utils.NewAppError(utils.ErrUpstream, "Failed to subscribe to conversation", err)
	}

	v := &View{
		svc:            s,
		viewerID:       viewerID,
		peerID:         peerID,
		conversationID: convID,
		sub:            sub,
		seen:           make(map[uuid.UUID]struct{}),
		updates:        make(chan Snapshot, 1),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go v.run(ctx)
	return v, nil
}

func (v *View) ConversationID() string { return v.conversationID }

func (v *View) PeerID() uuid.UUID { return v.peerID }

// Updates delivers the newest snapshot; intermediate ones are skipped when the
// consumer falls behind. The channel is closed when the view stops.
func (v *View) Updates() <-chan Snapshot {
	return v.updates
}

// Close stops the view and waits for its loop to exit.
func (v *View) Close() error {
	v.cancel()
	<-v.done
	return nil
}

func (v *View) Send(ctx context.Context, text string, replyTo *uuid.UUID) (*SendResult, error) {
	return v.svc.SendMessage(ctx, SendRequest{
		SenderID:    v.viewerID,
		RecipientID: v.peerID,
		Text:        text,
		ReplyToID:   replyTo,
	})
}

func (v *View) Edit(ctx context.Context, messageID uuid.UUID, text string) (*models.Message, error) {
	return v.svc.EditMessage(ctx, EditRequest{
		ConversationID: v.conversationID,
		MessageID:      messageID,
		EditorID:       v.viewerID,
		Text:           text,
	})
}

func (v *View) Delete(ctx context.Context, messageID uuid.UUID) error {
	return v.svc.DeleteMessage(ctx, DeleteRequest{
		ConversationID: v.conversationID,
		MessageID:      messageID,
		RequesterID:    v.viewerID,
	})
}

func (v *View) run(ctx context.Context) {
	defer close(v.done)
	defer close(v.updates)
	defer v.sub.Close()

	v.sync(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-v.sub.Events():
			if !ok {
				if ctx.Err() == nil {
					log.Printf("ConversationView: subscription to %s ended", v.conversationID)
				}
				return
			}
			v.drain()
			v.sync(ctx)
		}
	}
}

// drain discards queued events; one sync covers all of them.
func (v *View) drain() {
	for {
		select {
		case _, ok := <-v.sub.Events():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (v *View) sync(ctx context.Context) {
	messages, err := v.svc.Messages(ctx, v.conversationID)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("ConversationView: failed to load %s: %v", v.conversationID, err)
		}
		return
	}

	var unread []uuid.UUID
	current := make(map[uuid.UUID]struct{}, len(messages))
	for _, msg := range messages {
		current[msg.ID] = struct{}{}
		if _, known := v.seen[msg.ID]; known {
			continue
		}
		if msg.SenderID == v.peerID && msg.Status != models.StatusRead {
			unread = append(unread, msg.ID)
		}
	}
	v.seen = current

	if len(unread) > 0 {
		n, err := v.svc.MarkRead(ctx, v.conversationID, v.viewerID, unread)
		if err != nil {
			log.Printf("ConversationView: failed to mark messages read in %s: %v", v.conversationID, err)
		} else if n > 0 {
			marked := make(map[uuid.UUID]bool, len(unread))
			for _, id := range unread {
				marked[id] = true
			}
			for _, msg := range messages {
				if marked[msg.ID] {
					msg.Status = models.StatusRead
				}
			}
		}
	}

	if err := v.svc.ResetUnread(ctx, v.conversationID, v.viewerID); err != nil {
		log.Printf("ConversationView: failed to reset unread count in %s: %v", v.conversationID, err)
	}

	v.emit(Snapshot{ConversationID: v.conversationID, PeerID: v.peerID, Messages: messages})
}

// emit replaces any undelivered snapshot with snap. Only the run loop sends,
// so after draining the buffer the send cannot block.
func (v *View) emit(snap Snapshot) {
	select {
	case <-v.updates:
	default:
	}
	v.updates <- snap
}
