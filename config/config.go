package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Brokerage API
	APIKey    string
	SecretKey string
	UsePaper  bool   // Paper trading account; defaults to true for safety
	RESTBase  string // REST API base URL; derived from UsePaper when unset
	StreamURL string // Trade-update websocket URL; derived from UsePaper when unset

	// Engine
	PollInterval          time.Duration // Monitor polling cadence (fill status / quotes)
	DefaultFillTimeout    time.Duration // Applied when a strategy omits fill_timeout
	DefaultTriggerTimeout time.Duration // Applied when a strategy omits trigger_timeout
	PriceTick             float64       // Minimum price increment used for rounding

	// Database
	DBPath string

	// HTTP surface
	ListenAddr string

	// Logging
	LogLevel string
	LogFile  string // Rotated log file; empty means stderr only

	// Stream reconnect settings
	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

const (
	paperRESTBase = "https://paper-api.alpaca.markets"
	liveRESTBase  = "https://api.alpaca.markets"
	paperStream   = "wss://paper-api.alpaca.markets/stream"
	liveStream    = "wss://api.alpaca.markets/stream"
)

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Brokerage API
	cfg.APIKey = getEnv("APCA_API_KEY_ID", "")
	cfg.SecretKey = getEnv("APCA_API_SECRET_KEY", "")
	cfg.UsePaper = getEnvAsBool("USE_PAPER", true) // Default to paper for safety

	if cfg.APIKey == "" {
		errs = append(errs, "APCA_API_KEY_ID must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "APCA_API_SECRET_KEY must be set")
	}

	cfg.RESTBase = getEnv("APCA_API_BASE_URL", "")
	if cfg.RESTBase == "" {
		if cfg.UsePaper {
			cfg.RESTBase = paperRESTBase
		} else {
			cfg.RESTBase = liveRESTBase
		}
	}
	cfg.StreamURL = getEnv("APCA_STREAM_URL", "")
	if cfg.StreamURL == "" {
		if cfg.UsePaper {
			cfg.StreamURL = paperStream
		} else {
			cfg.StreamURL = liveStream
		}
	}

	// Engine
	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 1)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	fillTimeoutSeconds := getEnvAsInt("DEFAULT_FILL_TIMEOUT_SECONDS", 15)
	if fillTimeoutSeconds <= 0 {
		errs = append(errs, "DEFAULT_FILL_TIMEOUT_SECONDS must be positive")
	}
	cfg.DefaultFillTimeout = time.Duration(fillTimeoutSeconds) * time.Second

	triggerTimeoutSeconds := getEnvAsInt("DEFAULT_TRIGGER_TIMEOUT_SECONDS", 300)
	if triggerTimeoutSeconds <= 0 {
		errs = append(errs, "DEFAULT_TRIGGER_TIMEOUT_SECONDS must be positive")
	}
	cfg.DefaultTriggerTimeout = time.Duration(triggerTimeoutSeconds) * time.Second

	var err error
	cfg.PriceTick, err = getEnvAsFloatRequired("PRICE_TICK", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_TICK: %v", err))
	} else if cfg.PriceTick <= 0 {
		errs = append(errs, "PRICE_TICK must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/exit_strategies.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// HTTP surface
	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":5001")

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")
	cfg.LogFile = getEnv("LOG_FILE", "")

	// Stream reconnect settings
	reconnectMinSeconds := getEnvAsInt("RECONNECT_MIN_DELAY_SECONDS", 1)
	if reconnectMinSeconds <= 0 {
		errs = append(errs, "RECONNECT_MIN_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectMinDelay = time.Duration(reconnectMinSeconds) * time.Second

	reconnectMaxSeconds := getEnvAsInt("RECONNECT_MAX_DELAY_SECONDS", 30)
	if reconnectMaxSeconds < reconnectMinSeconds {
		errs = append(errs, "RECONNECT_MAX_DELAY_SECONDS must be >= RECONNECT_MIN_DELAY_SECONDS")
	}
	cfg.ReconnectMaxDelay = time.Duration(reconnectMaxSeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 0) // 0 = retry forever
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
