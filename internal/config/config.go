// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	PublicBaseURL  string
	RequestTimeout time.Duration
	MetricsEnabled bool
}

// DatabaseConfig holds document store settings
type DatabaseConfig struct {
	Type string // "mongo" or "memory"
	URI  string
	Name string
}

// BusConfig selects the live-subscription transport
type BusConfig struct {
	Type     string // "local" or "redis"
	RedisURL string
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret       string
	TokenExpiration time.Duration
}

// AssistConfig configures the hosted prompt-completion service
type AssistConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// PushConfig configures the Firebase app used for push notifications and
// phone sign-in verification.
type PushConfig struct {
	CredentialsFile string
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Bus            *BusConfig
	Auth           *AuthConfig
	Assist         *AssistConfig
	Push           *PushConfig
	AllowedOrigins []string
	Debug          bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           8080,
		Host:           "0.0.0.0",
		PublicBaseURL:  "http://localhost:8080",
		RequestTimeout: 5 * time.Second,
		MetricsEnabled: true,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type: "memory",
		URI:  "mongodb://localhost:27017/?replicaSet=rs0",
		Name: "whisper_link",
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	// Try to load .env file from the usual locations; a missing file is fine.
	for _, location := range []string{".env", "../../.env"} {
		if err := godotenv.Load(location); err == nil {
			log.Printf("Config: loaded environment from %s", location)
			break
		}
	}

	serverConfig := DefaultConfig()

	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", portStr, err)
		}
		serverConfig.Port = port
	}

	if host := os.Getenv("HOST"); host != "" {
		serverConfig.Host = host
	}

	serverConfig.PublicBaseURL = strings.TrimRight(
		getEnvOrDefault("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", serverConfig.Port)), "/")

	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT %q: %w", timeout, err)
		}
		serverConfig.RequestTimeout = d
	}

	if metricsEnabled := os.Getenv("METRICS_ENABLED"); metricsEnabled != "" {
		serverConfig.MetricsEnabled = metricsEnabled == "true"
	}

	dbConfig := DefaultDatabaseConfig()
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		dbConfig.Type = dbType
	}

	switch dbConfig.Type {
	case "mongo":
		dbConfig.URI = getEnvOrDefault("MONGO_URI", dbConfig.URI)
		dbConfig.Name = getEnvOrDefault("MONGO_DB", dbConfig.Name)
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q (want mongo or memory)", dbConfig.Type)
	}

	busConfig := &BusConfig{
		Type:     getEnvOrDefault("BUS_TYPE", "local"),
		RedisURL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
	}
	if busConfig.Type != "local" && busConfig.Type != "redis" {
		return nil, fmt.Errorf("unsupported BUS_TYPE %q (want local or redis)", busConfig.Type)
	}

	authConfig := &AuthConfig{
		JWTSecret:       os.Getenv("JWT_SECRET"),
		TokenExpiration: 24 * time.Hour,
	}
	if authConfig.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	config := &Config{
		Server:   serverConfig,
		Database: dbConfig,
		Bus:      busConfig,
		Auth:     authConfig,
		Assist: &AssistConfig{
			APIKey:  os.Getenv("AI_API_KEY"),
			BaseURL: os.Getenv("AI_BASE_URL"),
			Model:   getEnvOrDefault("AI_MODEL", "gpt-4o-mini"),
		},
		Push: &PushConfig{
			CredentialsFile: os.Getenv("FIREBASE_CREDENTIALS"),
		},
		AllowedOrigins: []string{"*"},
		Debug:          os.Getenv("DEBUG") == "true",
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	return config, nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
