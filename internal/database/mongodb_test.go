package database

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"whisper-link/internal/models"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// startMongo runs a single-node replica set so ApplySend can use transactions.
func startMongo(t *testing.T) *MongoDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		t.Skipf("failed to start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := NewMongoDB(ctx, uri, "whisper_link_test", options.Client().SetDirect(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func TestMongoSendFlow(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()

	alice := newTestUser("alice", "alice@example.com")
	bob := newTestUser("bob", "bob@example.com")
	require.NoError(t, db.CreateUser(ctx, alice))
	require.NoError(t, db.CreateUser(ctx, bob))

	err := db.CreateUser(ctx, newTestUser("alice", "again@example.com"))
	assert.True(t, utils.IsErrorCode(err, utils.ErrUserAlreadyExists))

	convID := models.ConversationIDFor(alice.ID, bob.ID)
	now := time.Now().UTC().Truncate(time.Millisecond)

	created, err := db.ApplySend(ctx, SendBatch{
		ConversationID: convID,
		SenderID:       alice.ID,
		RecipientID:    bob.ID,
		Message:        newTestMessage(convID, alice.ID, "Hi", now),
	})
	require.NoError(t, err)
	assert.True(t, created)

	conv, err := db.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread(alice.ID))
	assert.Equal(t, 1, conv.Unread(bob.ID))

	reply := newTestMessage(convID, bob.ID, "Hey", now.Add(time.Second))
	created, err = db.ApplySend(ctx, SendBatch{
		ConversationID: convID,
		SenderID:       bob.ID,
		RecipientID:    alice.ID,
		Message:        reply,
	})
	require.NoError(t, err)
	assert.False(t, created)

	conv, err = db.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Unread(alice.ID))
	assert.Equal(t, 1, conv.Unread(bob.ID))
	assert.Equal(t, "Hey", conv.LastMessage)

	msgs, err := db.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi", msgs[0].Text)

	n, err := db.MarkMessagesRead(ctx, convID, []uuid.UUID{reply.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	latest, err := db.LatestMessage(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, latest.Status)

	convs, err := db.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestMongoAvatars(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()

	id, err := db.PutAvatar(ctx, uuid.New(), "me.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)

	rc, contentType, err := db.OpenAvatar(ctx, id)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", contentType)

	_, _, err = db.OpenAvatar(ctx, "not-an-object-id")
	assert.True(t, utils.IsNotFound(err))
}

func TestNewMongoDBUnreachableServer(t *testing.T) {
	ctx := context.Background()
	_, err := NewMongoDB(ctx, "mongodb://127.0.0.1:1", "whisper_link_test",
		options.Client().SetServerSelectionTimeout(200*time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping MongoDB")
}

func TestOpenMongoDBFailureLeavesClientToCaller(t *testing.T) {
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI("mongodb://127.0.0.1:1").
		SetServerSelectionTimeout(200*time.Millisecond))
	require.NoError(t, err)

	_, err = openMongoDB(ctx, client, "whisper_link_test")
	require.Error(t, err)

	// The client is still connected, so the constructor's cleanup is what releases it.
	require.NoError(t, client.Disconnect(ctx))
	assert.ErrorIs(t, client.Disconnect(ctx), mongo.ErrClientDisconnected)
}
