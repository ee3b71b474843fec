package handlers

import (
	_ "embed"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

//go:embed static/firebase-messaging-sw.js
var serviceWorker []byte

// HandleHealth reports liveness, open connections and operation latencies.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "healthy",
			"connections": s.Hub.ConnectionCount(),
			"metrics":     s.Metrics.Snapshot(),
			"server_time": time.Now(),
		})
	}
}

// HandleServiceWorker serves the push service worker script.
func (s *Server) HandleServiceWorker() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Service-Worker-Allowed", "/")
		w.Write(serviceWorker)
	}
}

// HandleAvatar streams a stored profile picture.
func (s *Server) HandleAvatar() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, contentType, err := s.Store.OpenAvatar(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		if _, err := io.Copy(w, rc); err != nil {
			log.Printf("HTTP Handler: avatar stream failed: %v", err)
		}
	}
}
