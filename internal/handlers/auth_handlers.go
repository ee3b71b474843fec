package handlers

import (
	"log"
	"net/http"

	"whisper-link/internal/api"
	"whisper-link/internal/engine/actors"
	"whisper-link/internal/models"
)

// RegisterRequest represents a request to create a password account
type RegisterRequest struct {
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// LoginRequest represents a request to log in a user
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PhoneLoginRequest carries the identity provider's ID token, obtained by
// confirming the one-time code sent to the phone.
type PhoneLoginRequest struct {
	IDToken string `json:"idToken"`
}

func (s *Server) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.authenticate(w, http.StatusCreated, &actors.RegisterMsg{
			DisplayName: req.DisplayName,
			Username:    req.Username,
			Email:       req.Email,
			Password:    req.Password,
		})
	}
}

func (s *Server) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		log.Printf("HTTP Handler: Received login request for email: %s", req.Email)
		s.authenticate(w, http.StatusOK, &actors.LoginMsg{Email: req.Email, Password: req.Password})
	}
}

func (s *Server) HandlePhoneLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PhoneLoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.authenticate(w, http.StatusOK, &actors.PhoneLoginMsg{IDToken: req.IDToken})
	}
}

// authenticate asks the auth supervisor and answers with a signed token.
func (s *Server) authenticate(w http.ResponseWriter, status int, msg interface{}) {
	result, err := s.Engine.Auth(msg)
	if err != nil {
		writeJSON(w, statusOf(err), api.LoginResponse{Success: false, Error: messageOf(err)})
		return
	}

	user, ok := result.(*models.User)
	if !ok {
		log.Printf("HTTP Handler: Invalid response type: %T", result)
		writeJSON(w, http.StatusInternalServerError, api.LoginResponse{Success: false, Error: "Internal server error"})
		return
	}

	token, err := s.Auth.GenerateToken(user.ID)
	if err != nil {
		log.Printf("HTTP Handler: Token generation failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, api.LoginResponse{Success: false, Error: "Failed to generate token"})
		return
	}

	writeJSON(w, status, api.LoginResponse{
		Success: true,
		Token:   token,
		UserID:  user.ID.String(),
		User:    user,
	})
}
