package handlers

import (
	"net/http"
	"strings"

	"whisper-link/internal/api"
	"whisper-link/internal/engine/actors"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
)

func (s *Server) HandleRoster() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.Chat.Roster(r.Context(), currentUser(r), r.URL.Query().Get("q"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) HandleGetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := pathUUID(r, "peerId")
		if err != nil {
			writeError(w, err)
			return
		}
		s.conversation(w, http.StatusOK, &actors.GetMessagesMsg{ViewerID: currentUser(r), PeerID: peerID})
	}
}

func (s *Server) HandleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := pathUUID(r, "peerId")
		if err != nil {
			writeError(w, err)
			return
		}
		var req api.SendMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		msg := &actors.SendMessageMsg{SenderID: currentUser(r), RecipientID: peerID, Text: req.Text}
		if replyTo := strings.TrimSpace(req.ReplyToID); replyTo != "" {
			id, err := uuid.Parse(replyTo)
			if err != nil {
				writeError(w, utils.NewInvalidInputError("Invalid replyToId"))
				return
			}
			msg.ReplyToID = &id
		}
		s.conversation(w, http.StatusCreated, msg)
	}
}

func (s *Server) HandleEditMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := pathUUID(r, "peerId")
		if err != nil {
			writeError(w, err)
			return
		}
		messageID, err := pathUUID(r, "messageId")
		if err != nil {
			writeError(w, err)
			return
		}
		var req api.EditMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.conversation(w, http.StatusOK, &actors.EditMessageMsg{
			EditorID:  currentUser(r),
			PeerID:    peerID,
			MessageID: messageID,
			Text:      req.Text,
		})
	}
}

func (s *Server) HandleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := pathUUID(r, "peerId")
		if err != nil {
			writeError(w, err)
			return
		}
		messageID, err := pathUUID(r, "messageId")
		if err != nil {
			writeError(w, err)
			return
		}
		if _, err := s.Engine.Conversation(&actors.DeleteMessageMsg{
			RequesterID: currentUser(r),
			PeerID:      peerID,
			MessageID:   messageID,
		}); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleMarkRead marks the listed messages read, or every message from the
// peer when the body is empty, and resets the caller's unread counter.
func (s *Server) HandleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := pathUUID(r, "peerId")
		if err != nil {
			writeError(w, err)
			return
		}
		var req api.MarkReadRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
		}

		ids := make([]uuid.UUID, 0, len(req.MessageIDs))
		for _, raw := range req.MessageIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, utils.NewInvalidInputError("Invalid message ID: "+raw))
				return
			}
			ids = append(ids, id)
		}
		s.conversation(w, http.StatusOK, &actors.MarkReadMsg{ViewerID: currentUser(r), PeerID: peerID, MessageIDs: ids})
	}
}

// conversation asks the conversation supervisor and writes its reply.
func (s *Server) conversation(w http.ResponseWriter, status int, msg interface{}) {
	result, err := s.Engine.Conversation(msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, result)
}
