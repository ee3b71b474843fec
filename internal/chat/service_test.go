package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whisper-link/internal/database"
	"whisper-link/internal/models"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(ctx context.Context, token, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, token+"|"+title+"|"+body)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type testEnv struct {
	store    *database.MemoryStore
	bus      *pubsub.LocalBus
	notifier *recordingNotifier
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    database.NewMemoryStore(),
		bus:      pubsub.NewLocalBus(),
		notifier: &recordingNotifier{},
	}
	env.svc = NewService(env.store, env.bus, env.notifier, utils.NewMetricsCollector())
	t.Cleanup(func() { env.bus.Close() })
	return env
}

func (env *testEnv) addUser(t *testing.T, name, email string) *models.User {
	t.Helper()
	user := &models.User{
		ID:          uuid.New(),
		DisplayName: name,
		Username:    name,
		Email:       email,
		PushToken:   "token-" + name,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, env.store.CreateUser(context.Background(), user))
	return user
}

func (env *testEnv) send(t *testing.T, from, to *models.User, text string) *models.Message {
	t.Helper()
	res, err := env.svc.SendMessage(context.Background(), SendRequest{SenderID: from.ID, RecipientID: to.ID, Text: text})
	require.NoError(t, err)
	return res.Message
}

func TestFirstSendCreatesConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	res, err := env.svc.SendMessage(ctx, SendRequest{SenderID: u1.ID, RecipientID: u2.ID, Text: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, models.StatusDelivered, res.Message.Status)

	conv, err := env.store.GetConversation(ctx, models.ConversationIDFor(u1.ID, u2.ID))
	require.NoError(t, err)
	assert.Equal(t, "hello", conv.LastMessage)
	assert.Equal(t, 0, conv.Unread(u1.ID))
	assert.Equal(t, 1, conv.Unread(u2.ID))

	msgs, err := env.svc.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	assert.Eventually(t, func() bool { return env.notifier.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSubsequentSendIncrementsRecipientOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	env.send(t, u1, u2, "one")
	res, err := env.svc.SendMessage(ctx, SendRequest{SenderID: u1.ID, RecipientID: u2.ID, Text: "two"})
	require.NoError(t, err)
	assert.False(t, res.Created)

	conv, err := env.store.GetConversation(ctx, models.ConversationIDFor(u1.ID, u2.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread(u1.ID))
	assert.Equal(t, 2, conv.Unread(u2.ID))
	assert.Equal(t, "two", conv.LastMessage)
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	_, err := env.svc.SendMessage(ctx, SendRequest{SenderID: u1.ID, RecipientID: u2.ID, Text: "   "})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	_, err = env.svc.SendMessage(ctx, SendRequest{SenderID: u1.ID, RecipientID: u1.ID, Text: "me"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	_, err = env.svc.SendMessage(ctx, SendRequest{SenderID: u1.ID, RecipientID: uuid.New(), Text: "hi"})
	assert.True(t, utils.IsNotFound(err))

	// Nothing was written
	_, err = env.store.GetConversation(ctx, models.ConversationIDFor(u1.ID, u2.ID))
	assert.True(t, utils.IsNotFound(err))
}

func TestReplySnapshotIsPointInTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "alice", "alice@example.com")
	u2 := env.addUser(t, "bob", "bob@example.com")

	original := env.send(t, u1, u2, "lunch?")
	res, err := env.svc.SendMessage(ctx, SendRequest{
		SenderID:    u2.ID,
		RecipientID: u1.ID,
		Text:        "sure",
		ReplyToID:   &original.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Message.ReplyTo)
	assert.Equal(t, "alice", res.Message.ReplyTo.SenderName)
	assert.Equal(t, "lunch?", res.Message.ReplyTo.Text)

	_, err = env.svc.EditMessage(ctx, EditRequest{
		ConversationID: original.ConversationID,
		MessageID:      original.ID,
		EditorID:       u1.ID,
		Text:           "dinner?",
	})
	require.NoError(t, err)

	reply, err := env.store.GetMessage(ctx, original.ConversationID, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, "lunch?", reply.ReplyTo.Text)
}

func TestEditUpdatesPreviewOnlyForLatest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	first := env.send(t, u1, u2, "first")
	second := env.send(t, u1, u2, "second")
	convID := first.ConversationID

	edited, err := env.svc.EditMessage(ctx, EditRequest{ConversationID: convID, MessageID: first.ID, EditorID: u1.ID, Text: "first!"})
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)

	conv, err := env.store.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, "second", conv.LastMessage)

	_, err = env.svc.EditMessage(ctx, EditRequest{ConversationID: convID, MessageID: second.ID, EditorID: u1.ID, Text: "second!"})
	require.NoError(t, err)

	conv, err = env.store.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, "second!", conv.LastMessage)
	assert.True(t, conv.LastMessageTimestamp.Equal(second.CreatedAt))

	_, err = env.svc.EditMessage(ctx, EditRequest{ConversationID: convID, MessageID: second.ID, EditorID: u1.ID, Text: " "})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
}

func TestDeleteRecomputesPreview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	first := env.send(t, u1, u2, "first")
	second := env.send(t, u1, u2, "second")
	convID := first.ConversationID

	require.NoError(t, env.svc.DeleteMessage(ctx, DeleteRequest{ConversationID: convID, MessageID: second.ID, RequesterID: u1.ID}))

	conv, err := env.store.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, "first", conv.LastMessage)
	assert.True(t, conv.LastMessageTimestamp.Equal(first.CreatedAt))

	require.NoError(t, env.svc.DeleteMessage(ctx, DeleteRequest{ConversationID: convID, MessageID: first.ID, RequesterID: u1.ID}))

	conv, err = env.store.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, models.EmptyConversationPreview, conv.LastMessage)
	assert.True(t, conv.LastMessageTimestamp.After(first.CreatedAt))
}

func TestDeleteOlderMessageKeepsPreview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	first := env.send(t, u1, u2, "first")
	env.send(t, u1, u2, "second")

	require.NoError(t, env.svc.DeleteMessage(ctx, DeleteRequest{ConversationID: first.ConversationID, MessageID: first.ID, RequesterID: u1.ID}))

	conv, err := env.store.GetConversation(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "second", conv.LastMessage)
}

func TestOnlySenderMayEditOrDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	msg := env.send(t, u1, u2, "mine")

	_, err := env.svc.EditMessage(ctx, EditRequest{ConversationID: msg.ConversationID, MessageID: msg.ID, EditorID: u2.ID, Text: "yours"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	err = env.svc.DeleteMessage(ctx, DeleteRequest{ConversationID: msg.ConversationID, MessageID: msg.ID, RequesterID: u2.ID})
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	stored, err := env.store.GetMessage(ctx, msg.ConversationID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", stored.Text)
}

func TestMarkReadNeverRegressesAndSkipsOwnMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	fromU1 := env.send(t, u1, u2, "hi")
	fromU2 := env.send(t, u2, u1, "hey")
	convID := fromU1.ConversationID

	n, err := env.svc.MarkRead(ctx, convID, u2.ID, []uuid.UUID{fromU1.ID, fromU2.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.svc.MarkRead(ctx, convID, u2.ID, []uuid.UUID{fromU1.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	own, err := env.store.GetMessage(ctx, convID, fromU2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, own.Status)

	read, err := env.store.GetMessage(ctx, convID, fromU1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, read.Status)
}

func TestConcurrentMarkReadTransitionsEachMessageOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, env.send(t, u1, u2, "msg").ID)
	}
	convID := models.ConversationIDFor(u1.ID, u2.ID)

	var total int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := env.svc.MarkRead(ctx, convID, u2.ID, ids)
			assert.NoError(t, err)
			atomic.AddInt64(&total, int64(n))
			assert.NoError(t, env.svc.ResetUnread(ctx, convID, u2.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(len(ids)), total)
	conv, err := env.store.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread(u2.ID))
	for _, id := range ids {
		msg, err := env.store.GetMessage(ctx, convID, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRead, msg.Status)
	}
}

func TestResetUnreadIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	msg := env.send(t, u1, u2, "a")
	env.send(t, u1, u2, "b")

	for i := 0; i < 3; i++ {
		require.NoError(t, env.svc.ResetUnread(ctx, msg.ConversationID, u2.ID))
		conv, err := env.store.GetConversation(ctx, msg.ConversationID)
		require.NoError(t, err)
		assert.Equal(t, 0, conv.Unread(u2.ID))
	}

	// A conversation that was never started is not an error
	require.NoError(t, env.svc.ResetUnread(ctx, models.ConversationIDFor(u1.ID, uuid.New()), u1.ID))
}

func TestMessagesKeepSendOrder(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return fixed }

	var sent []uuid.UUID
	for _, text := range []string{"a", "b", "c", "d"} {
		sent = append(sent, env.send(t, u1, u2, text).ID)
	}

	msgs, err := env.svc.Messages(context.Background(), models.ConversationIDFor(u1.ID, u2.ID))
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, msg := range msgs {
		assert.Equal(t, sent[i], msg.ID)
	}
}
