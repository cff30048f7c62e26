// Package config provides configuration management for Charles.
// It loads settings from environment variables with the CHARLES_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the Charles application.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Agent     AgentConfig
	Response  ResponseConfig
	Security  SecurityConfig
	LogLevel  string // debug selects the development logger (default: info)
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int      // Server port (default: 6464)
	Host           string   // Server host (default: 127.0.0.1)
	AllowedOrigins []string // Websocket origins; empty means same host only
}

// StorageConfig contains vector index configuration.
type StorageConfig struct {
	StorageEngine string // sqlite or postgres (default: sqlite)
	DataPath      string // Directory for the sqlite index (default: ./data)
	PostgresDSN   string // Required when StorageEngine is postgres
	PriorsPath    string // Optional directory overriding the built-in prior corpus
	Seed          int64  // Random-vector seed; 0 means time-based
}

// LLMConfig contains the chat and reasoning backends.
type LLMConfig struct {
	Provider  string        // openai, anthropic or ollama (default: ollama)
	APIKey    string        // API key for openai or anthropic
	BaseURL   string        // Optional endpoint override
	FastModel string        // Model used for policy selection
	BestModel string        // Model used for generative-model updates
	ChatModel string        // Model used for streamed replies
	Timeout   time.Duration // Per-call timeout for non-streaming requests (default: 60s)
}

// EmbeddingConfig contains the embedding backend.
type EmbeddingConfig struct {
	Provider   string // openai, ollama or hash (default: hash)
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int // hash embedder only (default: 256)
}

// AgentConfig tunes the control loop and generative-model population.
type AgentConfig struct {
	TickInterval          time.Duration // default: 1s
	ErrorDelay            time.Duration // default: 1s
	MinTotalEntries       int           // default: 20
	MinEntriesPerCategory int           // default: 2
	MaxSampleAttempts     int           // default: 50
	RetryInitial          time.Duration // default: 100ms
	RetryMaxDelay         time.Duration // default: 30s
	RetryMaxAttempts      int           // 0 retries until cancelled
}

// ResponseConfig tunes streamed replies.
type ResponseConfig struct {
	// SentenceInterval is the minimum gap between released sentences.
	// Zero disables throttling.
	SentenceInterval time.Duration

	// ShowPackets prefixes debug response lines with speech packet counts.
	ShowPackets bool
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode   string  // Security mode: development, production (default: development)
	APIToken       string  // API authentication token
	RateLimitRPS   float64 // Sustained request rate for /api (default: 20)
	RateLimitBurst int     // Burst size (default: 40)
}

var (
	validEngines            = map[string]bool{"sqlite": true, "postgres": true}
	validLLMProviders       = map[string]bool{"openai": true, "anthropic": true, "ollama": true}
	validEmbeddingProviders = map[string]bool{"openai": true, "ollama": true, "hash": true}
)

// LoadConfig loads configuration from environment variables with sensible defaults
// and validates it. All environment variables use the CHARLES_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and settings that cannot work together.
func (c *Config) Validate() error {
	if !validEngines[c.Storage.StorageEngine] {
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}
	if c.Storage.StorageEngine == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("config: CHARLES_POSTGRES_DSN is required for the postgres engine")
	}
	if !validLLMProviders[c.LLM.Provider] {
		return fmt.Errorf("config: unknown LLM provider %q", c.LLM.Provider)
	}
	if !validEmbeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Agent.TickInterval <= 0 {
		return errors.New("config: tick interval must be positive")
	}
	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		return errors.New("config: CHARLES_API_TOKEN is required in production mode")
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	provider := getEnv("CHARLES_LLM_PROVIDER", "ollama")
	defaultModel := defaultModelFor(provider)

	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("CHARLES_PORT", 6464),
			Host:           getEnv("CHARLES_HOST", "127.0.0.1"),
			AllowedOrigins: getEnvList("CHARLES_ALLOWED_ORIGINS"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("CHARLES_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("CHARLES_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("CHARLES_POSTGRES_DSN", ""),
			PriorsPath:    getEnv("CHARLES_PRIORS_PATH", ""),
			Seed:          int64(getEnvInt("CHARLES_SEED", 0)),
		},
		LLM: LLMConfig{
			Provider:  provider,
			APIKey:    getEnv("CHARLES_LLM_API_KEY", ""),
			BaseURL:   getEnv("CHARLES_LLM_BASE_URL", ""),
			FastModel: getEnv("CHARLES_FAST_MODEL", defaultModel),
			BestModel: getEnv("CHARLES_BEST_MODEL", defaultModel),
			ChatModel: getEnv("CHARLES_CHAT_MODEL", defaultModel),
			Timeout:   getEnvDuration("CHARLES_LLM_TIMEOUT", 60*time.Second),
		},
		Embedding: EmbeddingConfig{
			Provider:   getEnv("CHARLES_EMBEDDING_PROVIDER", "hash"),
			APIKey:     getEnv("CHARLES_EMBEDDING_API_KEY", ""),
			BaseURL:    getEnv("CHARLES_EMBEDDING_BASE_URL", ""),
			Model:      getEnv("CHARLES_EMBEDDING_MODEL", ""),
			Dimensions: getEnvInt("CHARLES_EMBEDDING_DIM", 256),
		},
		Agent: AgentConfig{
			TickInterval:          getEnvDuration("CHARLES_TICK_INTERVAL", time.Second),
			ErrorDelay:            getEnvDuration("CHARLES_ERROR_DELAY", time.Second),
			MinTotalEntries:       getEnvInt("CHARLES_MIN_TOTAL_ENTRIES", 20),
			MinEntriesPerCategory: getEnvInt("CHARLES_MIN_PER_CATEGORY", 2),
			MaxSampleAttempts:     getEnvInt("CHARLES_MAX_SAMPLE_ATTEMPTS", 50),
			RetryInitial:          getEnvDuration("CHARLES_RETRY_INITIAL", 100*time.Millisecond),
			RetryMaxDelay:         getEnvDuration("CHARLES_RETRY_MAX_DELAY", 30*time.Second),
			RetryMaxAttempts:      getEnvInt("CHARLES_RETRY_MAX_ATTEMPTS", 0),
		},
		Response: ResponseConfig{
			SentenceInterval: getEnvDuration("CHARLES_SENTENCE_INTERVAL", 0),
			ShowPackets:      getEnvBool("CHARLES_SHOW_PACKETS", false),
		},
		Security: SecurityConfig{
			SecurityMode:   getEnv("CHARLES_SECURITY_MODE", "development"),
			APIToken:       getEnv("CHARLES_API_TOKEN", ""),
			RateLimitRPS:   getEnvFloat("CHARLES_RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("CHARLES_RATE_LIMIT_BURST", 40),
		},
		LogLevel: getEnv("CHARLES_LOG_LEVEL", "info"),
	}
}

func defaultModelFor(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	default:
		return "qwen2.5:7b"
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration parses values like "250ms" or "2s". A bare integer is taken
// as milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
