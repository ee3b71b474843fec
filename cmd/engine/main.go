package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whisper-link/internal/assist"
	"whisper-link/internal/chat"
	"whisper-link/internal/config"
	"whisper-link/internal/database"
	"whisper-link/internal/engine"
	"whisper-link/internal/handlers"
	"whisper-link/internal/identity"
	"whisper-link/internal/middleware"
	"whisper-link/internal/notify"
	"whisper-link/internal/profile"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"
	"whisper-link/internal/websocket"

	firebase "firebase.google.com/go/v4"
	"github.com/asynkron/protoactor-go/actor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// app is the wired server and the resources it has to release.
type app struct {
	server *handlers.Server
	hub    *websocket.Hub
	store  database.Store
	bus    pubsub.Bus
	system *actor.ActorSystem
}

func (a *app) Close(ctx context.Context) {
	a.system.Shutdown()
	if err := a.bus.Close(); err != nil {
		log.Printf("Failed to close bus: %v", err)
	}
	if err := a.store.Close(ctx); err != nil {
		log.Printf("Failed to close store: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
	switch cfg.Type {
	case "mongo":
		mongodb, err := database.NewMongoDB(ctx, cfg.URI, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("connect to MongoDB: %w", err)
		}
		if err := mongodb.EnsureIndexes(ctx); err != nil {
			mongodb.Close(ctx)
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		log.Printf("Using MongoDB store %s", cfg.Name)
		return mongodb, nil
	default:
		log.Println("Using in-memory store; data is lost on restart")
		return database.NewMemoryStore(), nil
	}
}

func openBus(ctx context.Context, cfg *config.BusConfig) (pubsub.Bus, error) {
	if cfg.Type == "redis" {
		bus, err := pubsub.NewRedisBus(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
		log.Println("Using Redis bus")
		return bus, nil
	}
	return pubsub.NewLocalBus(), nil
}

// newApp wires every component from cfg.
// openFirebase returns nil when no credentials are configured or the app
// cannot be initialized.
func openFirebase(ctx context.Context, credentialsFile string) *firebase.App {
	if credentialsFile == "" {
		return nil
	}
	app, err := identity.NewFirebaseApp(ctx, credentialsFile)
	if err != nil {
		log.Printf("Firebase: %v", err)
		return nil
	}
	return app
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	bus, err := openBus(ctx, cfg.Bus)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}

	metrics := utils.NewMetricsCollector()
	firebaseApp := openFirebase(ctx, cfg.Push.CredentialsFile)
	notifier := notify.New(ctx, firebaseApp)

	var verifier identity.PhoneVerifier
	if firebaseApp != nil {
		if v, err := identity.NewFirebaseVerifier(ctx, firebaseApp); err != nil {
			log.Printf("Phone sign-in disabled: %v", err)
		} else {
			verifier = v
		}
	} else {
		log.Println("FIREBASE_CREDENTIALS not set; phone sign-in is disabled")
	}

	var completer assist.Completer
	if cfg.Assist.APIKey != "" {
		completer = assist.NewOpenAICompleter(cfg.Assist.APIKey, cfg.Assist.BaseURL, cfg.Assist.Model)
	} else {
		log.Println("AI_API_KEY not set; phone screening is skipped and username suggestions are disabled")
	}
	assistant := assist.NewAssistant(completer, store)

	chatService := chat.NewService(store, bus, notifier, metrics)
	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, engine.Deps{
		Store:    store,
		Bus:      bus,
		Service:  chatService,
		Screener: assistant,
		Verifier: verifier,
		Metrics:  metrics,
	}, cfg.Server.RequestTimeout)

	hub := websocket.NewHub(chatService, store, bus)

	return &app{
		server: &handlers.Server{
			Engine:    eng,
			Chat:      chatService,
			Store:     store,
			Profiles:  profile.NewEditor(store, bus, cfg.Server.PublicBaseURL),
			Assistant: assistant,
			Hub:       hub,
			Auth:      middleware.NewTokenAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration),
			CORS:      middleware.DefaultCORSConfig(cfg.AllowedOrigins),
			Metrics:   metrics,
		},
		hub:    hub,
		store:  store,
		bus:    bus,
		system: system,
	}, nil
}

// run serves until ctx ends, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go a.hub.Run(hubCtx)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           a.server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stopHub()
		a.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	a.hub.Notice("Server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	stopHub()
	a.Close(shutdownCtx)
	log.Println("Server stopped")
	return nil
}
