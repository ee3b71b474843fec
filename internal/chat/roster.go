package chat

import (
	"context"
	"log"
	"sort"
	"strings"

	"whisper-link/internal/models"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
)

// BuildRoster joins every user except me with the conversation me has with
// them. query filters case-insensitively on username and display name.
// Users with a conversation come first, most recent activity first; the rest
// are alphabetical by display name, falling back to email.
func BuildRoster(me uuid.UUID, users []*models.User, conversations []*models.Conversation, query string) []models.RosterEntry {
	byID := make(map[string]*models.Conversation, len(conversations))
	for _, conv := range conversations {
		byID[conv.ID] = conv
	}
	query = strings.ToLower(strings.TrimSpace(query))

	entries := make([]models.RosterEntry, 0, len(users))
	for _, user := range users {
		if user.ID == me {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(user.Username), query) &&
			!strings.Contains(strings.ToLower(user.DisplayName), query) {
			continue
		}

		entry := models.RosterEntry{
			User:           user,
			ConversationID: models.ConversationIDFor(me, user.ID),
		}
		if conv, ok := byID[entry.ConversationID]; ok {
			ts := conv.LastMessageTimestamp
			entry.UnreadCount = conv.Unread(me)
			entry.LastMessage = conv.LastMessage
			entry.LastMessageTimestamp = &ts
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		aConv, bConv := a.LastMessageTimestamp != nil, b.LastMessageTimestamp != nil
		if aConv != bConv {
			return aConv
		}
		if aConv && !a.LastMessageTimestamp.Equal(*b.LastMessageTimestamp) {
			return a.LastMessageTimestamp.After(*b.LastMessageTimestamp)
		}
		if !aConv {
			an, bn := sortName(a.User), sortName(b.User)
			if an != bn {
				return an < bn
			}
		}
		return a.User.ID.String() < b.User.ID.String()
	})
	return entries
}

func sortName(u *models.User) string {
	if u.DisplayName != "" {
		return strings.ToLower(u.DisplayName)
	}
	return strings.ToLower(u.Email)
}

// Roster loads users and conversations and builds the roster for me.
func (s *Service) Roster(ctx context.Context, me uuid.UUID, query string) ([]models.RosterEntry, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	conversations, err := s.store.ListConversations(ctx, me)
	if err != nil {
		return nil, err
	}
	return BuildRoster(me, users, conversations, query), nil
}

// RosterWatcher recomputes a user's roster whenever any profile or one of
// the user's conversations changes.
type RosterWatcher struct {
	svc     *Service
	me      uuid.UUID
	sub     pubsub.Subscription
	query   chan string
	updates chan []models.RosterEntry
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *Service) WatchRoster(ctx context.Context, me uuid.UUID, query string) (*RosterWatcher, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := s.bus.Subscribe(ctx, pubsub.UsersTopic, pubsub.RosterTopic(me.String()))
	if err != nil {
		cancel()
		return nil, utils.NewAppError(utils.ErrUpstream, "Failed to subscribe to roster", err)
	}

	w := &RosterWatcher{
		svc:     s,
		me:      me,
		sub:     sub,
		query:   make(chan string, 1),
		updates: make(chan []models.RosterEntry, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run(ctx, query)
	return w, nil
}

// Updates delivers the newest roster; it is closed when the watcher stops.
func (w *RosterWatcher) Updates() <-chan []models.RosterEntry {
	return w.updates
}

// SetQuery changes the search filter and triggers a recompute.
func (w *RosterWatcher) SetQuery(query string) {
	select {
	case <-w.query:
	default:
	}
	select {
	case w.query <- query:
	case <-w.done:
	}
}

func (w *RosterWatcher) Close() error {
	w.cancel()
	<-w.done
	return nil
}

func (w *RosterWatcher) run(ctx context.Context, query string) {
	defer close(w.done)
	defer close(w.updates)
	defer w.sub.Close()

	w.refresh(ctx, query)
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-w.query:
			query = q
		case _, ok := <-w.sub.Events():
			if !ok {
				if ctx.Err() == nil {
					log.Printf("RosterWatcher: subscription for %s ended", w.me)
				}
				return
			}
		}
		w.refresh(ctx, query)
	}
}

func (w *RosterWatcher) refresh(ctx context.Context, query string) {
	entries, err := w.svc.Roster(ctx, w.me, query)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("RosterWatcher: failed to load roster for %s: %v", w.me, err)
		}
		return
	}
	select {
	case <-w.updates:
	default:
	}
	w.updates <- entries
}
