// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration

	Agent              AgentConfig
	RateLimit          RateLimitConfig
	MaxRequestBodySize int64
	MCPInspectTimeout  time.Duration
	ConversationLog    ConversationLogConfig
}

// AgentConfig configures the Anthropic-backed agent runtime.
type AgentConfig struct {
	APIKey           string
	Model            string
	MaxTurns         int
	InstructionsPath string

	// Cost rates in USD per million tokens.
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

// RateLimitConfig controls per-user query throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls per-session NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled    bool
	Dir        string
	GlobalPath string
	QueueSize  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/vulnlab.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 24*time.Hour),
		Agent: AgentConfig{
			APIKey:            getEnv("ANTHROPIC_API_KEY", ""),
			Model:             getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			MaxTurns:          getEnvInt("AGENT_MAX_TURNS", 30),
			InstructionsPath:  getEnv("AGENT_INSTRUCTIONS_PATH", ""),
			InputCostPerMTok:  getEnvFloat("AGENT_INPUT_COST_PER_MTOK", 3.0),
			OutputCostPerMTok: getEnvFloat("AGENT_OUTPUT_COST_PER_MTOK", 15.0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		MCPInspectTimeout:  getEnvDuration("MCP_INSPECT_TIMEOUT", 30*time.Second),
		ConversationLog: ConversationLogConfig{
			Enabled:    getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:        getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalPath: getEnv("CONVERSATION_LOG_GLOBAL_PATH", ""),
			QueueSize:  queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("AGENT_MAX_TURNS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
