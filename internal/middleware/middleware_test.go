package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUserID(w http.ResponseWriter, r *http.Request) {
	id, ok := GetUserIDFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write([]byte(id.String()))
}

func TestTokenRoundTrip(t *testing.T) {
	auth := NewTokenAuth("test-secret", time.Hour)
	userID := uuid.New()

	token, err := auth.GenerateToken(userID)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)

	_, err = NewTokenAuth("other-secret", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	auth := NewTokenAuth("test-secret", time.Minute)
	auth.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := auth.GenerateToken(uuid.New())
	require.NoError(t, err)

	auth.now = time.Now
	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	auth := NewTokenAuth("test-secret", time.Hour)
	userID := uuid.New()
	token, err := auth.GenerateToken(userID)
	require.NoError(t, err)
	handler := auth.Middleware(http.HandlerFunc(echoUserID))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		status int
	}{
		{"missing header", func(r *http.Request) {}, "/roster", http.StatusUnauthorized},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, "/roster", http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "/roster", http.StatusUnauthorized},
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "/roster", http.StatusOK},
		{"query token", func(r *http.Request) {}, "/ws?token=" + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, userID.String(), rec.Body.String())
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	handler := CORSMiddleware(DefaultCORSConfig([]string{"https://chat.example.com"}))(next)

	req := httptest.NewRequest(http.MethodOptions, "/roster", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/roster", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	cfg := DefaultCORSConfig(nil)
	assert.True(t, cfg.OriginAllowed("https://anything.example"))
	assert.True(t, DefaultCORSConfig([]string{"https://a.example"}).OriginAllowed(""))
}
