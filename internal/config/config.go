package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all agent configuration
type Config struct {
	Server  ServerConfig
	API     APIConfig
	WS      WSConfig
	Push    PushConfig
	Runtime RuntimeConfig
	State   StateConfig
	Log     LogConfig
}

type ServerConfig struct {
	Env string
}

type APIConfig struct {
	BaseURL string
	Token   string
	UserID  string
	Timeout time.Duration
}

type WSConfig struct {
	BaseURL      string
	Heartbeat    time.Duration
	BackoffFloor time.Duration
	BackoffCeil  time.Duration
	CloseGrace   time.Duration
}

type PushConfig struct {
	Platform    string
	UnreadStale time.Duration
	PageLimit   int
}

type RuntimeConfig struct {
	ListenAddr string
	AppOrigin  string
}

type StateConfig struct {
	Dir string
}

type LogConfig struct {
	Level string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	stateDir := getEnv("EVENTRA_STATE_DIR", "")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		stateDir = filepath.Join(home, ".eventra", "notify")
	}

	return &Config{
		Server: ServerConfig{
			Env: getEnv("ENV", "development"),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(getEnv("EVENTRA_API_URL", "https://api.eventra.app"), "/"),
			Token:   getEnv("EVENTRA_API_TOKEN", ""),
			UserID:  getEnv("EVENTRA_USER_ID", ""),
			Timeout: getDuration("EVENTRA_API_TIMEOUT", 15*time.Second),
		},
		WS: WSConfig{
			BaseURL:      strings.TrimRight(getEnv("EVENTRA_WS_URL", "wss://api.eventra.app"), "/"),
			Heartbeat:    getDuration("EVENTRA_WS_HEARTBEAT", 25*time.Second),
			BackoffFloor: getDuration("EVENTRA_WS_BACKOFF_FLOOR", 1*time.Second),
			BackoffCeil:  getDuration("EVENTRA_WS_BACKOFF_CEIL", 30*time.Second),
			CloseGrace:   getDuration("EVENTRA_WS_CLOSE_GRACE", 300*time.Millisecond),
		},
		Push: PushConfig{
			Platform:    getEnv("EVENTRA_PLATFORM", "web"),
			UnreadStale: getDuration("EVENTRA_UNREAD_STALE", 30*time.Second),
			PageLimit:   20,
		},
		Runtime: RuntimeConfig{
			ListenAddr: getEnv("EVENTRA_RUNTIME_ADDR", "127.0.0.1:7380"),
			AppOrigin:  strings.TrimRight(getEnv("EVENTRA_APP_ORIGIN", "https://app.eventra.app"), "/"),
		},
		State: StateConfig{
			Dir: stateDir,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
	}, nil
}

// getEnv gets an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getDuration reads a duration environment variable with a fallback default
func getDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
