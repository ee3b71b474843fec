package assist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"whisper-link/internal/assist/mocks"
	"whisper-link/internal/database"
	"whisper-link/internal/models"
	"whisper-link/internal/utils"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeWithUsernames(t *testing.T, names ...string) *database.MemoryStore {
	t.Helper()
	store := database.NewMemoryStore()
	for _, name := range names {
		require.NoError(t, store.CreateUser(context.Background(), &models.User{ID: uuid.New(), Username: name}))
	}
	return store
}

func TestSuggestUsernamesStopsAtFiveUnique(t *testing.T) {
	ctrl := gomock.NewController(t)
	completer := mocks.NewMockCompleter(ctrl)
	store := storeWithUsernames(t, "janedoe")

	gomock.InOrder(
		completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(`{"suggestions": ["JaneDoe", " jane_d ", "jdoe"]}`, nil),
		completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("```json\n{\"suggestions\": [\"jdoe\", \"doe_jane\", \"jane99\", \"jd_2024\"]}\n```", nil),
	)

	a := NewAssistant(completer, store)
	got, err := a.SuggestUsernames(context.Background(), "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, []string{"jane_d", "jdoe", "doe_jane", "jane99", "jd_2024"}, got)
}

func TestSuggestUsernamesGivesUpAfterFiveAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	completer := mocks.NewMockCompleter(ctrl)
	store := storeWithUsernames(t, "taken")

	first := completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", errors.New("rate limited"))
	completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(`{"suggestions": ["taken", "alpha", "beta"]}`, nil).
		Times(4).After(first)

	a := NewAssistant(completer, store)
	got, err := a.SuggestUsernames(context.Background(), "Al Beta")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, got)
}

func TestSuggestUsernamesSkipsInvalidNames(t *testing.T) {
	ctrl := gomock.NewController(t)
	completer := mocks.NewMockCompleter(ctrl)
	store := storeWithUsernames(t)

	completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(`{"suggestions": ["jane.doe", "jd", "jane-doe", "jane doe", "ok_name"]}`, nil).
		Times(maxSuggestionAttempts)

	a := NewAssistant(completer, store)
	got, err := a.SuggestUsernames(context.Background(), "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok_name"}, got)
}

func TestSuggestUsernamesRequiresName(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := NewAssistant(mocks.NewMockCompleter(ctrl), storeWithUsernames(t))

	_, err := a.SuggestUsernames(context.Background(), "  ")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	_, err = NewAssistant(nil, nil).SuggestUsernames(context.Background(), "Jane")
	assert.True(t, utils.IsErrorCode(err, utils.ErrUpstream))
}

func TestCheckPhoneNumber(t *testing.T) {
	ctrl := gomock.NewController(t)
	completer := mocks.NewMockCompleter(ctrl)

	completer.EXPECT().Complete(gomock.Any(), phoneSystemPrompt, "Phone Number: +15550100").
		Return(`{"isAbusive": true, "reason": "disposable number"}`, nil)
	completer.EXPECT().Complete(gomock.Any(), phoneSystemPrompt, "Phone Number: +447700900123").
		Return(`{"isAbusive": false}`, nil)
	completer.EXPECT().Complete(gomock.Any(), phoneSystemPrompt, "Phone Number: +10000000000").
		Return("", errors.New("unavailable"))

	a := NewAssistant(completer, nil)
	ctx := context.Background()

	verdict, err := a.CheckPhoneNumber(ctx, "+15550100")
	require.NoError(t, err)
	assert.True(t, verdict.IsAbusive)
	assert.Equal(t, "disposable number", verdict.Reason)

	verdict, err = a.CheckPhoneNumber(ctx, "+447700900123")
	require.NoError(t, err)
	assert.False(t, verdict.IsAbusive)

	_, err = a.CheckPhoneNumber(ctx, "+10000000000")
	assert.True(t, utils.IsErrorCode(err, utils.ErrUpstream))
}

func TestCheckPhoneNumberWithoutService(t *testing.T) {
	verdict, err := NewAssistant(nil, nil).CheckPhoneNumber(context.Background(), "+15550100")
	require.NoError(t, err)
	assert.False(t, verdict.IsAbusive)
}

func TestOpenAICompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": `{"isAbusive": false}`},
			}},
		})
	}))
	defer server.Close()

	c := NewOpenAICompleter("test-key", server.URL+"/v1", "test-model")
	out, err := c.Complete(context.Background(), "system", "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"isAbusive": false}`, out)
}
