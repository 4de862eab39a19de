// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Agent providers.
const (
	ProviderGRPC   = "grpc"
	ProviderGemini = "gemini"
)

// Config holds all application configuration.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	FrontendURL string `envconfig:"FRONTEND_URL"`
	DBPath      string `envconfig:"DB_PATH" default:"./data/hedron.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	ThreadTTL       time.Duration `envconfig:"THREAD_TTL" default:"168h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	HealthTimeout   time.Duration `envconfig:"HEALTH_TIMEOUT" default:"5s"`

	Agent           AgentConfig
	Chain           ChainConfig
	DeFi            DeFiConfig `envconfig:"DEFI"`
	Cache           CacheConfig
	Events          EventsConfig
	ConversationLog ConversationLogConfig `envconfig:"CONVERSATION_LOG"`
	WebSocket       WebSocketConfig       `envconfig:"WS"`
}

// AgentConfig selects and tunes the language-model collaborator.
type AgentConfig struct {
	Provider      string        `envconfig:"PROVIDER" default:"grpc"`
	Addr          string        `envconfig:"ADDR" default:"localhost:50051"`
	GeminiAPIKey  string        `envconfig:"GEMINI_API_KEY"`
	Model         string        `envconfig:"MODEL" default:"gemini-2.5-flash"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"90s"`
	MaxToolRounds int           `envconfig:"MAX_TOOL_ROUNDS" default:"6"`
}

// ChainConfig points at the Hedera network endpoints.
type ChainConfig struct {
	RPCURL       string `envconfig:"RPC_URL" default:"https://testnet.hashio.io/api"`
	MirrorURL    string `envconfig:"MIRROR_URL" default:"https://testnet.mirrornode.hedera.com"`
	RegistryPath string `envconfig:"REGISTRY_PATH"`
}

// DeFiConfig configures the protocol REST wrappers.
type DeFiConfig struct {
	SaucerSwapURL string        `envconfig:"SAUCERSWAP_URL" default:"https://test-api.saucerswap.finance"`
	SaucerSwapKey string        `envconfig:"SAUCERSWAP_KEY"`
	BonzoURL      string        `envconfig:"BONZO_URL" default:"https://mainnet-data.bonzo.finance"`
	RateLimit     float64       `envconfig:"RATE_LIMIT" default:"5"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"30s"`
}

// CacheConfig selects the response cache backend. An empty RedisAddr keeps
// the cache in memory.
type CacheConfig struct {
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// EventsConfig controls lifecycle event publication. No brokers means events
// are only logged.
type EventsConfig struct {
	KafkaBrokers []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string        `envconfig:"KAFKA_TOPIC" default:"hedron.events"`
	QueueSize    int           `envconfig:"QUEUE_SIZE" default:"256"`
	Timeout      time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"10s"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `envconfig:"ENABLED" default:"true"`
	Dir           string `envconfig:"DIR" default:"./data/logs/conversations"`
	GlobalEnabled bool   `envconfig:"GLOBAL_ENABLED" default:"false"`
	GlobalPath    string `envconfig:"GLOBAL_PATH" default:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `envconfig:"QUEUE_SIZE" default:"1000"`
}

// WebSocketConfig tunes per-connection resources.
type WebSocketConfig struct {
	InboxSize int   `envconfig:"INBOX_SIZE" default:"32"`
	ReadLimit int64 `envconfig:"READ_LIMIT" default:"1048576"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Agent.Provider {
	case ProviderGRPC:
		if c.Agent.Addr == "" {
			return fmt.Errorf("AGENT_ADDR cannot be empty for the grpc provider")
		}
	case ProviderGemini:
		if c.Agent.GeminiAPIKey == "" {
			return fmt.Errorf("AGENT_GEMINI_API_KEY is required for the gemini provider")
		}
		if c.Agent.MaxToolRounds <= 0 {
			return fmt.Errorf("AGENT_MAX_TOOL_ROUNDS must be > 0")
		}
	default:
		return fmt.Errorf("unknown AGENT_PROVIDER %q", c.Agent.Provider)
	}
	if c.DeFi.RateLimit <= 0 {
		return fmt.Errorf("DEFI_RATE_LIMIT must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.ThreadTTL <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("THREAD_TTL and CLEANUP_INTERVAL must be > 0")
	}
	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("EVENTS_QUEUE_SIZE must be > 0")
	}
	if c.WebSocket.InboxSize <= 0 {
		return fmt.Errorf("WS_INBOX_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
