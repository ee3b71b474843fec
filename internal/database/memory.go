package database

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"whisper-link/internal/models"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
)

// MemoryStore keeps every document in process memory. It backs DB_TYPE=memory
// and the tests; values handed out are copies so callers cannot alias state.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*models.User
	conversations map[string]*models.Conversation
	messages      map[string]map[uuid.UUID]*models.Message // conversationID -> messageID -> message
	avatars       map[string]memoryAvatar
}

type memoryAvatar struct {
	data        []byte
	contentType string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]*models.User),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]map[uuid.UUID]*models.Message),
		avatars:       make(map[string]memoryAvatar),
	}
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Users = append([]uuid.UUID(nil), c.Users...)
	out.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		out.UnreadCount[k] = v
	}
	return &out
}

func copyMessage(m *models.Message) *models.Message {
	out := *m
	if m.ReplyTo != nil {
		reply := *m.ReplyTo
		out.ReplyTo = &reply
	}
	return &out
}

// Users

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return utils.NewAppError(utils.ErrUserAlreadyExists, "User already exists", nil)
	}
	for _, existing := range s.users {
		if (user.Username != "" && existing.Username == user.Username) ||
			(user.Email != "" && existing.Email == user.Email) ||
			(user.PhoneNumber != "" && existing.PhoneNumber == user.PhoneNumber) {
			return utils.NewAppError(utils.ErrUserAlreadyExists, "Username, email or phone already registered", nil)
		}
	}
	s.users[user.ID] = copyUser(user)
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, utils.NewUserNotFoundError(id.String())
	}
	return copyUser(user), nil
}

func (s *MemoryStore) findUser(match func(*models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if match(user) {
			return copyUser(user), nil
		}
	}
	return nil, utils.NewAppError(utils.ErrUserNotFound, "User not found", nil)
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(func(u *models.User) bool { return email != "" && u.Email == email })
}

func (s *MemoryStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.findUser(func(u *models.User) bool { return phone != "" && u.PhoneNumber == phone })
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, copyUser(user))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID.String() < users[j].ID.String() })
	return users, nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return utils.NewUserNotFoundError(id.String())
	}
	if update.Username != nil && *update.Username != "" {
		for otherID, other := range s.users {
			if otherID != id && other.Username == *update.Username {
				return utils.NewAppError(utils.ErrDuplicate, "Username is already taken", nil)
			}
		}
	}

	if update.DisplayName != nil {
		user.DisplayName = *update.DisplayName
	}
	if update.Username != nil {
		user.Username = *update.Username
	}
	if update.Bio != nil {
		user.Bio = *update.Bio
	}
	if update.PhotoURL != nil {
		user.PhotoURL = *update.PhotoURL
	}
	if update.PushToken != nil {
		user.PushToken = *update.PushToken
	}
	return nil
}

func (s *MemoryStore) ExistingUsernames(ctx context.Context, candidates []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		wanted[c] = true
	}
	taken := make(map[string]bool)
	for _, user := range s.users {
		if user.Username != "" && wanted[user.Username] {
			taken[user.Username] = true
		}
	}
	return taken, nil
}

// Conversations

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, utils.NewAppError(utils.ErrConversationNotFound, "Conversation not found", nil)
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, copyConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ApplySend(ctx context.Context, batch SendBatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := batch.Message
	sender := batch.SenderID.String()
	recipient := batch.RecipientID.String()

	conv, exists := s.conversations[batch.ConversationID]
	if !exists {
		conv = &models.Conversation{
			ID:          batch.ConversationID,
			Users:       []uuid.UUID{batch.SenderID, batch.RecipientID},
			UnreadCount: map[string]int{sender: 0, recipient: 0},
			CreatedAt:   msg.CreatedAt,
		}
		s.conversations[batch.ConversationID] = conv
	}
	conv.LastMessage = msg.Text
	conv.LastMessageTimestamp = msg.CreatedAt
	conv.UnreadCount[recipient]++

	if s.messages[batch.ConversationID] == nil {
		s.messages[batch.ConversationID] = make(map[uuid.UUID]*models.Message)
	}
	s.messages[batch.ConversationID][msg.ID] = copyMessage(msg)

	return !exists, nil
}

func (s *MemoryStore) ResetUnread(ctx context.Context, conversationID string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[conversationID]; ok {
		conv.UnreadCount[userID.String()] = 0
	}
	return nil
}

func (s *MemoryStore) UpdatePreview(ctx context.Context, conversationID string, text string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return utils.NewAppError(utils.ErrConversationNotFound, "Conversation not found", nil)
	}
	conv.LastMessage = text
	conv.LastMessageTimestamp = ts
	return nil
}

// Messages

func (s *MemoryStore) sortedMessages(conversationID string) []*models.Message {
	msgs := make([]*models.Message, 0, len(s.messages[conversationID]))
	for _, msg := range s.messages[conversationID] {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID.String() < msgs[j].ID.String()
	})
	return msgs
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedMessages(conversationID)
	out := make([]*models.Message, len(sorted))
	for i, msg := range sorted {
		out[i] = copyMessage(msg)
	}
	return out, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, conversationID string, id uuid.UUID) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[conversationID][id]
	if !ok {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	return copyMessage(msg), nil
}

func (s *MemoryStore) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedMessages(conversationID)
	if len(sorted) == 0 {
		return nil, nil
	}
	return copyMessage(sorted[len(sorted)-1]), nil
}

func (s *MemoryStore) UpdateMessageText(ctx context.Context, conversationID string, id uuid.UUID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[conversationID][id]
	if !ok {
		return utils.NewMessageNotFoundError(id.String())
	}
	msg.Text = text
	msg.IsEdited = true
	return nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, conversationID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[conversationID][id]; !ok {
		return utils.NewMessageNotFoundError(id.String())
	}
	delete(s.messages[conversationID], id)
	return nil
}

func (s *MemoryStore) MarkMessagesRead(ctx context.Context, conversationID string, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, id := range ids {
		msg, ok := s.messages[conversationID][id]
		if !ok || !msg.Status.CanAdvanceTo(models.StatusRead) {
			continue
		}
		msg.Status = models.StatusRead
		changed++
	}
	return changed, nil
}

// Avatars

func (s *MemoryStore) PutAvatar(ctx context.Context, userID uuid.UUID, filename, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", utils.NewAppError(utils.ErrInvalidInput, "Failed to read avatar", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.avatars[id] = memoryAvatar{data: data, contentType: contentType}
	return id, nil
}

func (s *MemoryStore) OpenAvatar(ctx context.Context, id string) (io.ReadCloser, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	avatar, ok := s.avatars[id]
	if !ok {
		return nil, "", utils.NewAppError(utils.ErrNotFound, "Avatar not found", nil)
	}
	return io.NopCloser(bytes.NewReader(avatar.data)), avatar.contentType, nil
}
