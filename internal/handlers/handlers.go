package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"whisper-link/internal/api"
	"whisper-link/internal/assist"
	"whisper-link/internal/chat"
	"whisper-link/internal/database"
	"whisper-link/internal/engine"
	"whisper-link/internal/middleware"
	"whisper-link/internal/profile"
	"whisper-link/internal/utils"
	"whisper-link/internal/websocket"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Server holds all server dependencies, including the actor engine
type Server struct {
	Engine    *engine.Engine
	Chat      *chat.Service
	Store     database.Store
	Profiles  *profile.Editor
	Assistant *assist.Assistant
	Hub       *websocket.Hub
	Auth      *middleware.TokenAuth
	CORS      *middleware.CORSConfig
	Metrics   *utils.MetricsCollector
}

// Router builds the HTTP surface. Everything except the auth, health,
// avatar and service worker routes requires a bearer token.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.countRequests)

	r.HandleFunc("/health", s.HandleHealth()).Methods(http.MethodGet)
	r.HandleFunc("/firebase-messaging-sw.js", s.HandleServiceWorker()).Methods(http.MethodGet)
	r.HandleFunc("/avatars/{id}", s.HandleAvatar()).Methods(http.MethodGet)
	r.HandleFunc("/auth/register", s.HandleRegister()).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.HandleLogin()).Methods(http.MethodPost)
	r.HandleFunc("/auth/phone", s.HandlePhoneLogin()).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.Auth.Middleware)

	protected.HandleFunc("/users/me", s.HandleGetMe()).Methods(http.MethodGet)
	protected.HandleFunc("/users/me", s.HandleUpdateMe()).Methods(http.MethodPatch)
	protected.HandleFunc("/users/me/avatar", s.HandleUploadAvatar()).Methods(http.MethodPost)
	protected.HandleFunc("/users/me/push-token", s.HandlePushToken()).Methods(http.MethodPut)
	protected.HandleFunc("/users/suggestions", s.HandleSuggestions()).Methods(http.MethodGet)

	protected.HandleFunc("/roster", s.HandleRoster()).Methods(http.MethodGet)

	conversations := protected.PathPrefix("/conversations/{peerId}").Subrouter()
	conversations.HandleFunc("/messages", s.HandleGetMessages()).Methods(http.MethodGet)
	conversations.HandleFunc("/messages", s.HandleSendMessage()).Methods(http.MethodPost)
	conversations.HandleFunc("/messages/{messageId}", s.HandleEditMessage()).Methods(http.MethodPatch)
	conversations.HandleFunc("/messages/{messageId}", s.HandleDeleteMessage()).Methods(http.MethodDelete)
	conversations.HandleFunc("/read", s.HandleMarkRead()).Methods(http.MethodPost)

	protected.HandleFunc("/ws", s.HandleWebSocket()).Methods(http.MethodGet)

	return middleware.CORSMiddleware(s.CORS)(r)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps err to its HTTP status and writes {"error": message}.
func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Printf("HTTP Handler: %v", err)
	}
	resp := api.ErrorResponse{Error: messageOf(err)}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
	}
	writeJSON(w, status, resp)
}

func statusOf(err error) int {
	return utils.HTTPStatus(err)
}

// messageOf returns the client-facing message: the AppError message without
// the wrapped cause.
func messageOf(err error) string {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return utils.NewInvalidInputError("Invalid request body")
	}
	return nil
}

// currentUser returns the user ID stored by the auth middleware.
func currentUser(r *http.Request) uuid.UUID {
	id, _ := middleware.GetUserIDFromContext(r.Context())
	return id
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, utils.NewInvalidInputError("Invalid " + name)
	}
	return id, nil
}
