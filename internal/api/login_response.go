// Package api holds the JSON shapes shared by the HTTP handlers and their clients.
package api

import "whisper-link/internal/models"

type LoginResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token,omitempty"`
	Error   string       `json:"error,omitempty"`
	UserID  string       `json:"userId"`
	User    *models.User `json:"user,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type SendMessageRequest struct {
	Text      string `json:"text"`
	ReplyToID string `json:"replyToId,omitempty"`
}

type EditMessageRequest struct {
	Text string `json:"text"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds,omitempty"`
}
