package handlers

import (
	"log"
	"net/http"

	"whisper-link/internal/api"
	"whisper-link/internal/profile"
	"whisper-link/internal/utils"
)

// UpdateProfileRequest carries the profile fields to change; absent fields are kept.
type UpdateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	Username    *string `json:"username"`
	Bio         *string `json:"bio"`
}

type PushTokenRequest struct {
	Token string `json:"token"`
}

// Multipart form overhead allowed on top of the avatar itself.
const multipartOverhead = 1 << 20

func (s *Server) HandleGetMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.Store.GetUser(r.Context(), currentUser(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *Server) HandleUpdateMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateProfileRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		user, err := s.Profiles.Update(r.Context(), currentUser(r), profile.Update{
			DisplayName: req.DisplayName,
			Username:    req.Username,
			Bio:         req.Bio,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// HandleUploadAvatar accepts a multipart form with the picture in field "avatar".
func (s *Server) HandleUploadAvatar() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, profile.MaxAvatarSize+multipartOverhead)
		file, header, err := r.FormFile("avatar")
		if err != nil {
			log.Printf("HTTP Handler: avatar form rejected: %v", err)
			writeError(w, utils.NewInvalidInputError("An image file up to 5MB is required in field \"avatar\""))
			return
		}
		defer file.Close()

		user, err := s.Profiles.UploadAvatar(r.Context(), currentUser(r), header.Filename, header.Header.Get("Content-Type"), file)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *Server) HandlePushToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PushTokenRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := s.Profiles.SetPushToken(r.Context(), currentUser(r), req.Token); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) HandleSuggestions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suggestions, err := s.Assistant.SuggestUsernames(r.Context(), r.URL.Query().Get("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, api.SuggestionsResponse{Suggestions: suggestions})
	}
}
