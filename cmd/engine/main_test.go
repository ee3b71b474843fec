package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whisper-link/internal/api"
	"whisper-link/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	server := config.DefaultConfig()
	server.RequestTimeout = 2 * time.Second
	return &config.Config{
		Server:         server,
		Database:       &config.DatabaseConfig{Type: "memory"},
		Bus:            &config.BusConfig{Type: "local"},
		Auth:           &config.AuthConfig{JWTSecret: "test-secret", TokenExpiration: time.Hour},
		Assist:         &config.AssistConfig{},
		Push:           &config.PushConfig{},
		AllowedOrigins: []string{"*"},
	}
}

func postJSON(t *testing.T, url, token string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIntegrationFlow(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig())
	require.NoError(t, err)

	hubCtx, stopHub := context.WithCancel(ctx)
	go a.hub.Run(hubCtx)
	server := httptest.NewServer(a.server.Router())
	t.Cleanup(func() {
		server.Close()
		stopHub()
		a.Close(ctx)
	})

	register := func(name string) api.LoginResponse {
		resp := postJSON(t, server.URL+"/auth/register", "", map[string]string{
			"displayName": name,
			"username":    name,
			"email":       name + "@example.com",
			"password":    "password123",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var out api.LoginResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	// Step 1: Create two users
	user1 := register("user1")
	user2 := register("user2")
	t.Logf("User 1 created with ID: %s", user1.UserID)

	// Step 2: User 1 starts a conversation
	resp := postJSON(t, server.URL+"/conversations/"+user2.UserID+"/messages", user1.Token, api.SendMessageRequest{Text: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Step 3: User 2 sees it in the roster
	req, err := http.NewRequest(http.MethodGet, server.URL+"/roster", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+user2.Token)
	rosterResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rosterResp.Body.Close()
	require.Equal(t, http.StatusOK, rosterResp.StatusCode)

	var roster []struct {
		ConversationID string `json:"conversationId"`
		UnreadCount    int    `json:"unreadCount"`
		LastMessage    string `json:"lastMessage"`
	}
	require.NoError(t, json.NewDecoder(rosterResp.Body).Decode(&roster))
	require.Len(t, roster, 1)
	assert.Equal(t, 1, roster[0].UnreadCount)
	assert.Equal(t, "hello", roster[0].LastMessage)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
