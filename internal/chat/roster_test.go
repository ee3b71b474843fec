package chat

import (
	"context"
	"testing"
	"time"

	"whisper-link/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRosterOrdering(t *testing.T) {
	me := &models.User{ID: uuid.New(), DisplayName: "Me"}
	zed := &models.User{ID: uuid.New(), DisplayName: "zed"}
	amy := &models.User{ID: uuid.New(), DisplayName: "Amy"}
	noName := &models.User{ID: uuid.New(), Email: "bea@example.com"}
	old := &models.User{ID: uuid.New(), DisplayName: "Old Friend"}
	recent := &models.User{ID: uuid.New(), DisplayName: "Recent Friend"}

	now := time.Now()
	convs := []*models.Conversation{
		{
			ID:                   models.ConversationIDFor(me.ID, old.ID),
			LastMessage:          "long ago",
			LastMessageTimestamp: now.Add(-time.Hour),
			UnreadCount:          map[string]int{me.ID.String(): 2},
		},
		{
			ID:                   models.ConversationIDFor(me.ID, recent.ID),
			LastMessage:          "just now",
			LastMessageTimestamp: now,
			UnreadCount:          map[string]int{me.ID.String(): 0, recent.ID.String(): 1},
		},
	}

	roster := BuildRoster(me.ID, []*models.User{zed, me, amy, old, noName, recent}, convs, "")
	require.Len(t, roster, 5)

	var names []string
	for _, e := range roster {
		names = append(names, e.User.Name())
	}
	assert.Equal(t, []string{"Recent Friend", "Old Friend", "Amy", "bea@example.com", "zed"}, names)

	assert.Equal(t, 2, roster[1].UnreadCount)
	assert.Equal(t, "long ago", roster[1].LastMessage)
	assert.Equal(t, 0, roster[0].UnreadCount)
	assert.Nil(t, roster[2].LastMessageTimestamp)
	assert.Equal(t, models.ConversationIDFor(me.ID, amy.ID), roster[2].ConversationID)
}

func TestBuildRosterSearch(t *testing.T) {
	me := uuid.New()
	users := []*models.User{
		{ID: uuid.New(), DisplayName: "Alice Smith", Username: "asmith"},
		{ID: uuid.New(), DisplayName: "Bob", Username: "bobby_tables"},
	}

	roster := BuildRoster(me, users, nil, "SMITH")
	require.Len(t, roster, 1)
	assert.Equal(t, "asmith", roster[0].User.Username)

	roster = BuildRoster(me, users, nil, "tables")
	require.Len(t, roster, 1)
	assert.Equal(t, "Bob", roster[0].User.DisplayName)

	assert.Empty(t, BuildRoster(me, users, nil, "carol"))
}

func TestRosterWatcherFollowsConversations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.addUser(t, "u1", "u1@example.com")
	u2 := env.addUser(t, "u2", "u2@example.com")

	w, err := env.svc.WatchRoster(ctx, u2.ID, "")
	require.NoError(t, err)
	defer w.Close()

	waitRoster := func(match func([]models.RosterEntry) bool) []models.RosterEntry {
		deadline := time.After(2 * time.Second)
		for {
			select {
			case entries, ok := <-w.Updates():
				require.True(t, ok)
				if match(entries) {
					return entries
				}
			case <-deadline:
				t.Fatal("timed out waiting for roster")
				return nil
			}
		}
	}

	waitRoster(func(e []models.RosterEntry) bool { return len(e) == 1 && e[0].UnreadCount == 0 })

	env.send(t, u1, u2, "ping")
	entries := waitRoster(func(e []models.RosterEntry) bool { return len(e) == 1 && e[0].UnreadCount == 1 })
	assert.Equal(t, "ping", entries[0].LastMessage)

	require.NoError(t, env.svc.ResetUnread(ctx, entries[0].ConversationID, u2.ID))
	waitRoster(func(e []models.RosterEntry) bool { return len(e) == 1 && e[0].UnreadCount == 0 })

	w.SetQuery("nobody")
	waitRoster(func(e []models.RosterEntry) bool { return len(e) == 0 })
}
