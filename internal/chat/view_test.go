package chat

import (
	"context"
	"testing"
	"time"

	"whisper-link/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitSnapshot reads snapshots until one satisfies match.
func waitSnapshot(t *testing.T, v *View, match func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-v.Updates():
			require.True(t, ok, "view closed")
			if match(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func TestExampleScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	senderView, err := env.svc.OpenView(ctx, u1.ID, u2.ID)
	require.NoError(t, err)
	defer senderView.Close()

	res, err := senderView.Send(ctx, "hello", nil)
	require.NoError(t, err)
	assert.True(t, res.Created)

	conv, err := env.store.GetConversation(ctx, senderView.ConversationID())
	require.NoError(t, err)
	assert.Equal(t, "hello", conv.LastMessage)
	assert.Equal(t, 0, conv.Unread(u1.ID))
	assert.Equal(t, 1, conv.Unread(u2.ID))

	// u2 opens the conversation
	recipientView, err := env.svc.OpenView(ctx, u2.ID, u1.ID)
	require.NoError(t, err)
	defer recipientView.Close()

	snap := waitSnapshot(t, recipientView, func(s Snapshot) bool { return len(s.Messages) == 1 })
	assert.Equal(t, models.StatusRead, snap.Messages[0].Status)

	conv, err = env.store.GetConversation(ctx, senderView.ConversationID())
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread(u2.ID))

	// u1's view learns about the read receipt without doing anything
	waitSnapshot(t, senderView, func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Status == models.StatusRead
	})
}

func TestOpenViewMarksLiveMessagesRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	view, err := env.svc.OpenView(ctx, u2.ID, u1.ID)
	require.NoError(t, err)
	defer view.Close()

	waitSnapshot(t, view, func(s Snapshot) bool { return len(s.Messages) == 0 })

	env.send(t, u1, u2, "are you there?")
	snap := waitSnapshot(t, view, func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Status == models.StatusRead
	})
	assert.Equal(t, u1.ID, snap.PeerID)

	assert.Eventually(t, func() bool {
		conv, err := env.store.GetConversation(ctx, view.ConversationID())
		return err == nil && conv.Unread(u2.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReopenKeepsUnreadAtZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	env.send(t, u1, u2, "one")
	env.send(t, u1, u2, "two")

	for i := 0; i < 2; i++ {
		view, err := env.svc.OpenView(ctx, u2.ID, u1.ID)
		require.NoError(t, err)
		waitSnapshot(t, view, func(s Snapshot) bool { return len(s.Messages) == 2 })
		require.NoError(t, view.Close())

		conv, err := env.store.GetConversation(ctx, view.ConversationID())
		require.NoError(t, err)
		assert.Equal(t, 0, conv.Unread(u2.ID))
	}
}

func TestViewEditAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	view, err := env.svc.OpenView(ctx, u1.ID, u2.ID)
	require.NoError(t, err)
	defer view.Close()

	res, err := view.Send(ctx, "typo", nil)
	require.NoError(t, err)

	_, err = view.Edit(ctx, res.Message.ID, "fixed")
	require.NoError(t, err)
	waitSnapshot(t, view, func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Text == "fixed" && s.Messages[0].IsEdited
	})

	require.NoError(t, view.Delete(ctx, res.Message.ID))
	waitSnapshot(t, view, func(s Snapshot) bool { return len(s.Messages) == 0 })
}

func TestViewClosesUpdates(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	view, err := env.svc.OpenView(context.Background(), u1.ID, u2.ID)
	require.NoError(t, err)
	require.NoError(t, view.Close())

	for range view.Updates() {
	}

	_, err = env.svc.OpenView(context.Background(), u1.ID, u1.ID)
	assert.Error(t, err)
}
