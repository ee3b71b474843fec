package handlers

import (
	"log"
	"net/http"

	ws "github.com/gorilla/websocket"
)

// HandleWebSocket upgrades an authenticated request and hands the connection
// to the hub. Browsers pass the token as ?token=.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	upgrader := ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.CORS.OriginAllowed(r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID := currentUser(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the HTTP error.
			log.Printf("WebSocket upgrade failed for User %s: %v", userID, err)
			return
		}
		log.Printf("WebSocket connection upgraded for User %s", userID)

		s.Hub.Attach(userID, conn)
	}
}
