package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"whisper-link/internal/api"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type SimConfig struct {
	NumUsers         int
	SimulationTime   time.Duration
	MessageFrequency float64 // messages per user per minute
	ReplyPercentage  float64
	EditPercentage   float64
	DeletePercentage float64
	DisconnectRate   float64
	ReconnectRate    float64
	ZipfS            float64
	EngineURL        string
	MetricsInterval  time.Duration
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	AverageLatency   time.Duration
	ActiveUsers      int
	TotalMessages    int
	TotalReplies     int
	TotalEdits       int
	TotalDeletes     int
	ReadReceipts     int
	Snapshots        int
	RequestLatencies []time.Duration
}

// SimulatedUser is one account driven by the simulator. Fields below mu are
// updated from the websocket reader.
type SimulatedUser struct {
	ID          uuid.UUID
	Username    string
	Email       string
	Token       string
	IsConnected bool

	mu       sync.Mutex
	conn     *websocket.Conn
	openPeer uuid.UUID
	sent     map[uuid.UUID][]uuid.UUID // peer -> own message IDs, oldest first
	lastSeen map[uuid.UUID]uuid.UUID   // peer -> newest message ID in the conversation
	readSeen map[uuid.UUID]bool        // own messages already observed as read
}

type EnhancedSimulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	client *http.Client
	mu     sync.RWMutex
}

const simPassword = "testpass123"

func NewEnhancedSimulator(config SimConfig) *EnhancedSimulator {
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 10 * time.Second
	}
	return &EnhancedSimulator{
		config: config,
		stats: &SimulationStats{
			StartTime:        time.Now(),
			RequestLatencies: make([]time.Duration, 0),
		},
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *EnhancedSimulator) Run(ctx context.Context) error {
	log.Printf("Starting chat simulation...")

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer s.disconnectAll()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SimulateActivities(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()

	wg.Wait()
	return nil
}

func (s *EnhancedSimulator) initialize(ctx context.Context) error {
	log.Printf("Phase 1: Creating %d users...", s.config.NumUsers)
	if err := s.createInitialUsers(ctx); err != nil {
		return fmt.Errorf("failed to create initial users: %w", err)
	}
	if len(s.users) < 2 {
		return fmt.Errorf("need at least 2 users, created %d", len(s.users))
	}

	log.Printf("Phase 2: Opening websocket sessions...")
	for _, user := range s.users {
		if err := s.connect(ctx, user); err != nil {
			log.Printf("Failed to connect user %s: %v", user.Username, err)
			continue
		}
	}

	log.Printf("Initialization completed successfully")
	return nil
}

func (s *EnhancedSimulator) createInitialUsers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make([]*SimulatedUser, 0, s.config.NumUsers)

	numWorkers := 5
	userJobs := make(chan int, numWorkers)
	results := make(chan *SimulatedUser, numWorkers)

	var wg sync.WaitGroup
	runID := uuid.NewString()[:8]

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for userNum := range userJobs {
				user := &SimulatedUser{
					Username: fmt.Sprintf("sim_%s_%d", runID, userNum),
					Email:    fmt.Sprintf("sim_%s_%d@test.com", runID, userNum),
					sent:     make(map[uuid.UUID][]uuid.UUID),
					lastSeen: make(map[uuid.UUID]uuid.UUID),
					readSeen: make(map[uuid.UUID]bool),
				}

				var err error
				for retries := 0; retries < 3; retries++ {
					if err = s.registerUser(ctx, user); err == nil {
						results <- user
						break
					}
					backoff := time.Duration(math.Pow(2, float64(retries))) * 100 * time.Millisecond
					log.Printf("Worker %d: Retry %d for user %s after %v delay", workerID, retries+1, user.Username, backoff)
					select {
					case <-ctx.Done():
						return
					case <-time.After(backoff):
					}
				}
				if err != nil {
					log.Printf("Worker %d: Failed to register user %s after retries: %v", workerID, user.Username, err)
				}
			}
		}(i)
	}

	go func() {
		defer close(userJobs)
		for i := 0; i < s.config.NumUsers; i++ {
			select {
			case userJobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for user := range results {
		s.users = append(s.users, user)
	}

	log.Printf("Successfully created %d users", len(s.users))
	return nil
}

func (s *EnhancedSimulator) registerUser(ctx context.Context, user *SimulatedUser) error {
	resp, err := s.makeRequest(ctx, "", http.MethodPost, "/auth/register", map[string]string{
		"displayName": strings.ReplaceAll(user.Username, "_", " "),
		"username":    user.Username,
		"email":       user.Email,
		"password":    simPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	var result api.LoginResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to parse registration response: %w", err)
	}
	id, err := uuid.Parse(result.UserID)
	if err != nil {
		return fmt.Errorf("invalid user ID returned: %w", err)
	}
	user.ID = id
	user.Token = result.Token
	return nil
}

// makeRequest sends a JSON request, recording its latency. token may be empty.
func (s *EnhancedSimulator) makeRequest(ctx context.Context, token, method, endpoint string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.EngineURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.recordRequestMetrics(start, err)
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	s.recordRequestMetrics(start, err)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *EnhancedSimulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalRequests++
	s.stats.RequestLatencies = append(s.stats.RequestLatencies, latency)

	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}

	totalLatency := s.stats.AverageLatency * time.Duration(s.stats.TotalRequests-1)
	s.stats.AverageLatency = (totalLatency + latency) / time.Duration(s.stats.TotalRequests)
}

func (s *EnhancedSimulator) getZipfNumber(max int) int {
	if max <= 1 {
		return 0
	}
	if s.config.ZipfS <= 1 {
		return rand.Intn(max)
	}
	zipf := rand.NewZipf(rand.New(rand.NewSource(time.Now().UnixNano())), s.config.ZipfS, 1, uint64(max-1))
	return int(zipf.Uint64())
}

func (s *EnhancedSimulator) simulateConnectivity(ctx context.Context) {
	log.Printf("Starting connectivity simulation...")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			users := append([]*SimulatedUser(nil), s.users...)
			s.mu.RUnlock()

			for _, user := range users {
				if user.connected() {
					if rand.Float64() < s.config.DisconnectRate {
						s.disconnect(user)
					}
				} else if rand.Float64() < s.config.ReconnectRate {
					if err := s.connect(ctx, user); err != nil {
						log.Printf("Reconnect failed for user %s: %v", user.Username, err)
					}
				}
			}
		}
	}
}

func (s *EnhancedSimulator) collectMetrics(ctx context.Context) {
	log.Printf("Starting metrics collection...")
	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			log.Printf("Simulation Metrics (%.1f seconds elapsed):", time.Since(s.stats.StartTime).Seconds())
			log.Printf("- Request Rate: %.2f req/sec", m.RequestsPerSecond)
			log.Printf("- Average Latency: %v", m.AverageLatency)
			log.Printf("- Active Users: %d/%d", m.ActiveUsers, m.TotalUsers)
			log.Printf("- Messages: %d (Replies: %d, Edits: %d, Deletes: %d)", m.TotalMessages, m.TotalReplies, m.TotalEdits, m.TotalDeletes)
			log.Printf("- Read receipts observed: %d", m.ReadReceipts)
			log.Printf("- Failed Requests: %d", m.ErrorCount)
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers        int
	ActiveUsers       int
	TotalMessages     int
	TotalReplies      int
	TotalEdits        int
	TotalDeletes      int
	ReadReceipts      int
	Snapshots         int
	AverageLatency    time.Duration
	ErrorCount        int
	RequestsPerSecond float64
}

// GetMetrics returns the current simulation metrics
func (s *EnhancedSimulator) GetMetrics() SimulationMetrics {
	s.mu.RLock()
	totalUsers := len(s.users)
	active := 0
	for _, user := range s.users {
		if user.connected() {
			active++
		}
	}
	s.mu.RUnlock()

	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.ActiveUsers = active

	elapsed := time.Since(s.stats.StartTime)
	return SimulationMetrics{
		TotalUsers:        totalUsers,
		ActiveUsers:       active,
		TotalMessages:     s.stats.TotalMessages,
		TotalReplies:      s.stats.TotalReplies,
		TotalEdits:        s.stats.TotalEdits,
		TotalDeletes:      s.stats.TotalDeletes,
		ReadReceipts:      s.stats.ReadReceipts,
		Snapshots:         s.stats.Snapshots,
		AverageLatency:    s.stats.AverageLatency,
		ErrorCount:        int(s.stats.FailedRequests),
		RequestsPerSecond: float64(s.stats.TotalRequests) / elapsed.Seconds(),
	}
}
