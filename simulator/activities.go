package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"whisper-link/internal/api"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// frame is the subset of a server event the simulator inspects.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type snapshotData struct {
	PeerID   uuid.UUID `json:"peerId"`
	Messages []struct {
		ID       uuid.UUID `json:"id"`
		SenderID uuid.UUID `json:"senderId"`
		Status   string    `json:"status"`
	} `json:"messages"`
}

type sendResponse struct {
	Message struct {
		ID uuid.UUID `json:"id"`
	} `json:"message"`
}

const minActivityInterval = 10 * time.Millisecond

func (u *SimulatedUser) connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.IsConnected
}

func (s *EnhancedSimulator) websocketURL(token string) string {
	base := strings.Replace(s.config.EngineURL, "http", "ws", 1)
	return base + "/ws?token=" + token
}

// connect opens the user's websocket session and starts reading its events.
func (s *EnhancedSimulator) connect(ctx context.Context, user *SimulatedUser) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.websocketURL(user.Token), nil)
	if err != nil {
		return err
	}

	user.mu.Lock()
	user.conn = conn
	user.openPeer = uuid.Nil
	user.IsConnected = true
	user.mu.Unlock()

	go s.readEvents(user, conn)
	return nil
}

func (s *EnhancedSimulator) disconnect(user *SimulatedUser) {
	user.mu.Lock()
	defer user.mu.Unlock()
	if user.conn != nil {
		user.conn.Close()
		user.conn = nil
	}
	user.IsConnected = false
}

func (s *EnhancedSimulator) disconnectAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		s.disconnect(user)
	}
}

// readEvents consumes server events until the connection fails, recording
// snapshots and read receipts of the user's own messages.
func (s *EnhancedSimulator) readEvents(user *SimulatedUser, conn *websocket.Conn) {
	defer func() {
		user.mu.Lock()
		if user.conn == conn {
			user.conn = nil
			user.IsConnected = false
		}
		user.mu.Unlock()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != "snapshot" {
			continue
		}

		var snap snapshotData
		if err := json.Unmarshal(f.Data, &snap); err != nil {
			log.Printf("Simulator: bad snapshot for %s: %v", user.Username, err)
			continue
		}

		receipts := 0
		user.mu.Lock()
		if n := len(snap.Messages); n > 0 {
			user.lastSeen[snap.PeerID] = snap.Messages[n-1].ID
		}
		for _, m := range snap.Messages {
			if m.SenderID == user.ID && m.Status == "read" && !user.readSeen[m.ID] {
				user.readSeen[m.ID] = true
				receipts++
			}
		}
		user.mu.Unlock()

		s.stats.mu.Lock()
		s.stats.Snapshots++
		s.stats.ReadReceipts += receipts
		s.stats.mu.Unlock()
	}
}

// openConversation points the user's live view at peer.
func (s *EnhancedSimulator) openConversation(user *SimulatedUser, peer uuid.UUID) {
	user.mu.Lock()
	defer user.mu.Unlock()
	if user.conn == nil || user.openPeer == peer {
		return
	}
	if err := user.conn.WriteJSON(map[string]string{"type": "open", "peerId": peer.String()}); err != nil {
		log.Printf("Simulator: open conversation for %s failed: %v", user.Username, err)
		return
	}
	user.openPeer = peer
}

// SimulateActivities drives random one-to-one conversations until ctx ends.
func (s *EnhancedSimulator) SimulateActivities(ctx context.Context) {
	log.Printf("Starting conversation simulation...")

	s.mu.RLock()
	users := append([]*SimulatedUser(nil), s.users...)
	s.mu.RUnlock()

	perMinute := s.config.MessageFrequency * float64(len(users))
	interval := minActivityInterval
	if perMinute > 0 {
		if d := time.Duration(float64(time.Minute) / perMinute); d > interval {
			interval = d
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sender := users[rand.Intn(len(users))]
			if !sender.connected() {
				continue
			}
			// Popular users receive most of the traffic.
			peer := users[s.getZipfNumber(len(users))]
			if peer == sender {
				peer = users[(s.getZipfNumber(len(users))+1)%len(users)]
				if peer == sender {
					continue
				}
			}
			if err := s.act(ctx, sender, peer); err != nil {
				log.Printf("Simulator: %s -> %s: %v", sender.Username, peer.Username, err)
			}
		}
	}
}

func (s *EnhancedSimulator) act(ctx context.Context, sender, peer *SimulatedUser) error {
	s.openConversation(sender, peer.ID)
	// The recipient looks at the conversation about half the time, which
	// produces read receipts.
	if rand.Float64() < 0.5 && peer.connected() {
		s.openConversation(peer, sender.ID)
	}

	sender.mu.Lock()
	own := append([]uuid.UUID(nil), sender.sent[peer.ID]...)
	lastSeen, hasLast := sender.lastSeen[peer.ID]
	sender.mu.Unlock()

	base := "/conversations/" + peer.ID.String() + "/messages"
	r := rand.Float64()
	switch {
	case r < s.config.DeletePercentage && len(own) > 0:
		target := own[len(own)-1]
		if _, err := s.makeRequest(ctx, sender.Token, http.MethodDelete, base+"/"+target.String(), nil); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		sender.mu.Lock()
		sender.sent[peer.ID] = own[:len(own)-1]
		sender.mu.Unlock()
		s.count(func(st *SimulationStats) { st.TotalDeletes++ })

	case r < s.config.DeletePercentage+s.config.EditPercentage && len(own) > 0:
		target := own[rand.Intn(len(own))]
		text := fmt.Sprintf("%s (edited)", randomLine())
		if _, err := s.makeRequest(ctx, sender.Token, http.MethodPatch, base+"/"+target.String(), api.EditMessageRequest{Text: text}); err != nil {
			return fmt.Errorf("edit: %w", err)
		}
		s.count(func(st *SimulationStats) { st.TotalEdits++ })

	default:
		req := api.SendMessageRequest{Text: randomLine()}
		reply := hasLast && rand.Float64() < s.config.ReplyPercentage
		if reply {
			req.ReplyToID = lastSeen.String()
		}
		payload, err := s.makeRequest(ctx, sender.Token, http.MethodPost, base, req)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		var res sendResponse
		if err := json.Unmarshal(payload, &res); err != nil {
			return fmt.Errorf("parse send response: %w", err)
		}
		sender.mu.Lock()
		sender.sent[peer.ID] = append(sender.sent[peer.ID], res.Message.ID)
		sender.mu.Unlock()
		s.count(func(st *SimulationStats) {
			st.TotalMessages++
			if reply {
				st.TotalReplies++
			}
		})
	}
	return nil
}

func (s *EnhancedSimulator) count(update func(*SimulationStats)) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	update(s.stats)
}

func randomLine() string {
	lines := []string{
		"hey, how's it going?", "did you see the game last night?", "lunch tomorrow?",
		"sending the doc over now", "haha yes", "can't talk, in a meeting",
		"running 5 minutes late", "thanks!", "what time works for you?", "sounds good",
	}
	return lines[rand.Intn(len(lines))]
}
