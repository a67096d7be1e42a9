package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort     string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RedisURL       string
	BackendBaseURL string
	BackendTimeout time.Duration
	JWTSecret      string
	// AutosaveInterval is the fixed period between scheduled snapshot saves
	// while a session is active and online.
	AutosaveInterval time.Duration
	// SaveDebounce is the quiet window after an answer selection before the
	// reactive save fires. Selections inside one window coalesce.
	SaveDebounce time.Duration
	// CheckpointTTL bounds how long a resume checkpoint outlives its session.
	CheckpointTTL time.Duration
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error if .env file doesn't exist

	return &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		GinMode:          getEnv("GIN_MODE", "debug"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "pretty"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		BackendBaseURL:   getEnv("BACKEND_BASE_URL", "http://localhost:9000/api/v1"),
		BackendTimeout:   time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", 10)) * time.Second,
		JWTSecret:        getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		AutosaveInterval: time.Duration(getEnvInt("AUTOSAVE_INTERVAL_SECONDS", 30)) * time.Second,
		SaveDebounce:     time.Duration(getEnvInt("SAVE_DEBOUNCE_MS", 500)) * time.Millisecond,
		CheckpointTTL:    time.Duration(getEnvInt("CHECKPOINT_TTL_HOURS", 24)) * time.Hour,
		AllowedOrigins:   parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
