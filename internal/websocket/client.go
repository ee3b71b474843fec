package websocket

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"whisper-link/internal/chat"
	"whisper-link/internal/models"
	"whisper-link/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer    = 256
	commandBuffer = 16
)

// Client commands.
const (
	CommandOpen   = "open"
	CommandClose  = "close"
	CommandRoster = "roster"
	CommandLogout = "logout"
)

// Command is one client to server frame.
type Command struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId,omitempty"`
	Query  string `json:"query,omitempty"`
}

// Client is a middleman between the websocket connection and the live
// subscriptions of one signed-in session.
type Client struct {
	Hub *Hub

	// The user ID this client represents.
	UserID uuid.UUID

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	commands chan Command
	done     chan struct{}

	// Newest undelivered snapshot and roster frames, keyed by event type.
	// They are never dropped, only replaced by a newer frame of the same type.
	pendingMu sync.Mutex
	pending   map[string][]byte
	wake      chan struct{}

	// Owned by Serve.
	view   *chat.View
	roster *chat.RosterWatcher
}

// ReadPump decodes commands from the websocket connection. It closes the
// command stream on disconnect, which signs the session out.
func (c *Client) ReadPump() {
	defer func() {
		close(c.commands)
		c.Hub.unregister(c)
		c.Conn.Close()
		log.Printf("WebSocket Client ReadPump stopped for User %s", c.UserID)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error for User %s: %v", c.UserID, err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			cmd = Command{Type: "invalid"}
		}
		select {
		case c.commands <- cmd:
		case <-c.done:
			return
		}
	}
}

func newClient(h *Hub, userID uuid.UUID, conn *websocket.Conn) *Client {
	return &Client{
		Hub:      h,
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		commands: make(chan Command, commandBuffer),
		done:     make(chan struct{}),
		pending:  make(map[string][]byte),
		wake:     make(chan struct{}, 1),
	}
}

// WritePump pumps queued frames to the websocket connection until the
// session ends.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		log.Printf("WebSocket Client WritePump stopped for User %s", c.UserID)
	}()
	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error for User %s: %v", c.UserID, err)
				return
			}

		case <-c.wake:
			if !c.writePending() {
				return
			}

		case <-c.done:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case message := <-c.Send:
					c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			if !c.writePending() {
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("WebSocket write error (Ping) for User %s: %v", c.UserID, err)
				return
			}
		}
	}
}

// takePending removes and returns the coalesced frames, snapshot first.
func (c *Client) takePending() [][]byte {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	var frames [][]byte
	for _, eventType := range []string{EventSnapshot, EventRoster} {
		if payload, ok := c.pending[eventType]; ok {
			frames = append(frames, payload)
			delete(c.pending, eventType)
		}
	}
	return frames
}

func (c *Client) writePending() bool {
	for _, message := range c.takePending() {
		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error for User %s: %v", c.UserID, err)
			return false
		}
	}
	return true
}

// Serve runs the session: it signs the user in, forwards profile, roster and
// conversation updates, and applies commands until logout, disconnect or ctx
// ends.
func (c *Client) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	provider := session.NewProvider(c.Hub.users, c.Hub.bus)
	states := make(chan session.AuthState, 2)
	providerDone := make(chan struct{})
	go func() {
		defer close(providerDone)
		provider.Run(ctx, states)
	}()
	states <- session.SignedIn(c.UserID)

	defer func() {
		c.closeView()
		c.closeRoster()
		states <- session.SignedOut()
		close(states)
		<-providerDone
		close(c.done)
	}()

	profiles := provider.Updates()
	for {
		var snapshots <-chan chat.Snapshot
		if c.view != nil {
			snapshots = c.view.Updates()
		}
		var rosters <-chan []models.RosterEntry
		if c.roster != nil {
			rosters = c.roster.Updates()
		}

		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-c.commands:
			if !ok {
				return
			}
			if !c.handle(ctx, cmd) {
				return
			}

		case state, ok := <-profiles:
			if !ok {
				profiles = nil
				continue
			}
			if state.UserID == c.UserID {
				c.emit(EventProfile, state)
			}

		case snap, ok := <-snapshots:
			if !ok {
				c.view = nil
				c.emit(EventNotice, "Conversation updates stopped")
				continue
			}
			c.emit(EventSnapshot, snap)

		case entries, ok := <-rosters:
			if !ok {
				c.roster = nil
				c.emit(EventNotice, "Roster updates stopped")
				continue
			}
			c.emit(EventRoster, entries)
		}
	}
}

// handle applies one command. It returns false when the session should end.
func (c *Client) handle(ctx context.Context, cmd Command) bool {
	switch cmd.Type {
	case CommandOpen:
		peerID, err := uuid.Parse(strings.TrimSpace(cmd.PeerID))
		if err != nil {
			c.emit(EventNotice, "Invalid peer ID")
			return true
		}
		c.closeView()
		view, err := c.Hub.chat.OpenView(ctx, c.UserID, peerID)
		if err != nil {
			log.Printf("WebSocket: open conversation %s for User %s failed: %v", peerID, c.UserID, err)
			c.emit(EventNotice, err.Error())
			return true
		}
		c.view = view

	case CommandClose:
		c.closeView()

	case CommandRoster:
		if c.roster != nil {
			c.roster.SetQuery(cmd.Query)
			return true
		}
		roster, err := c.Hub.chat.WatchRoster(ctx, c.UserID, cmd.Query)
		if err != nil {
			log.Printf("WebSocket: roster for User %s failed: %v", c.UserID, err)
			c.emit(EventNotice, err.Error())
			return true
		}
		c.roster = roster

	case CommandLogout:
		c.emit(EventNotice, "Signed out")
		return false

	default:
		c.emit(EventNotice, "Unknown command: "+cmd.Type)
	}
	return true
}

func (c *Client) closeView() {
	if c.view != nil {
		c.view.Close()
		c.view = nil
	}
}

func (c *Client) closeRoster() {
	if c.roster != nil {
		c.roster.Close()
		c.roster = nil
	}
}

func (c *Client) emit(eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		log.Printf("WebSocket: failed to encode %s for User %s: %v", eventType, c.UserID, err)
		return
	}
	if eventType == EventSnapshot || eventType == EventRoster {
		c.replacePending(eventType, payload)
		return
	}
	c.enqueue(payload)
}

// replacePending stores payload as the newest frame of its type and wakes
// the write pump.
func (c *Client) replacePending(eventType string, payload []byte) {
	c.pendingMu.Lock()
	c.pending[eventType] = payload
	c.pendingMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) enqueue(payload []byte) {
	select {
	case c.Send <- payload:
	default:
		log.Printf("Send channel full for client of User %s. Message dropped for this client.", c.UserID)
	}
}
