package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"whisper-link/internal/chat"
	"whisper-link/internal/database"
	"whisper-link/internal/pubsub"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is the envelope of every server to client frame.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	EventSnapshot = "snapshot"
	EventRoster   = "roster"
	EventProfile  = "profile"
	EventNotice   = "notice"
)

// Hub maintains the set of active clients and the collaborators each
// connection's live subscriptions are built on.
type Hub struct {
	chat  *chat.Service
	users database.UserStore
	bus   pubsub.Bus

	// Registered clients. Maps user ID to a set of active client connections.
	Clients map[uuid.UUID]map[*Client]bool

	Broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client

	// Mutex to protect concurrent access to the clients map.
	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(chatService *chat.Service, users database.UserStore, bus pubsub.Bus) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		chat:       chatService,
		users:      users,
		bus:        bus,
		Broadcast:  make(chan []byte),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Clients:    make(map[uuid.UUID]map[*Client]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's processing loop. When ctx ends every client session
// is stopped.
func (h *Hub) Run(ctx context.Context) {
	log.Println("WebSocket Hub started.")
	defer h.cancel()

	for {
		select {
		case <-ctx.Done():
			log.Println("WebSocket Hub stopped.")
			return

		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.Clients[client.UserID]; !ok {
				h.Clients[client.UserID] = make(map[*Client]bool)
			}
			h.Clients[client.UserID][client] = true
			log.Printf("WebSocket Client registered for User %s. Total connections for user: %d", client.UserID, len(h.Clients[client.UserID]))
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if userClients, ok := h.Clients[client.UserID]; ok {
				if _, clientOk := userClients[client]; clientOk {
					delete(userClients, client)
					if len(userClients) == 0 {
						delete(h.Clients, client.UserID)
						log.Printf("WebSocket Client unregistered. User %s has no more connections.", client.UserID)
					} else {
						log.Printf("WebSocket Client unregistered for User %s. Remaining connections: %d", client.UserID, len(userClients))
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.Broadcast:
			h.mu.RLock()
			for _, userClients := range h.Clients {
				for client := range userClients {
					client.enqueue(message)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Attach registers an upgraded connection for userID and starts its pumps
// and session loop.
func (h *Hub) Attach(userID uuid.UUID, conn *websocket.Conn) *Client {
	client := newClient(h, userID, conn)

	select {
	case h.Register <- client:
	case <-h.ctx.Done():
	}

	go client.WritePump()
	go client.ReadPump()
	go client.Serve(h.ctx)
	return client
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.ctx.Done():
	}
}

// Notice sends a notice to every connected client.
func (h *Hub) Notice(text string) {
	payload, err := json.Marshal(Event{Type: EventNotice, Data: text})
	if err != nil {
		return
	}
	select {
	case h.Broadcast <- payload:
	case <-h.ctx.Done():
	}
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, userClients := range h.Clients {
		n += len(userClients)
	}
	return n
}
