package config

import (
	"fmt"
	"time"
)

// Config represents the main chatrelay configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Upstream LLM
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Chat behavior
	Chat ChatConfig `json:"chat" mapstructure:"chat"`

	// Session store
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Rate limiting
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP/WebSocket server configuration
type ServerConfig struct {
	Host          string `json:"host" mapstructure:"host"`
	Port          int    `json:"port" mapstructure:"port"`
	AllowedOrigin string `json:"allowed_origin" mapstructure:"allowed_origin"`
}

// LLMConfig holds upstream provider configuration
type LLMConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// ChatConfig holds conversation behavior configuration
type ChatConfig struct {
	SystemPrompt     string   `json:"system_prompt" mapstructure:"system_prompt"`
	ContextWindow    int      `json:"context_window" mapstructure:"context_window"`
	MaxMessageLength int      `json:"max_message_length" mapstructure:"max_message_length"`
	AllowedModels    []string `json:"allowed_models" mapstructure:"allowed_models"`
}

// SessionConfig holds in-memory session store configuration
type SessionConfig struct {
	MaxIdle       time.Duration `json:"max_idle" mapstructure:"max_idle"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// RateLimitConfig holds per-scope fixed-window limits
type RateLimitConfig struct {
	GeneralMax  int `json:"general_max" mapstructure:"general_max"`
	ChatMax     int `json:"chat_max" mapstructure:"chat_max"`
	RealtimeMax int `json:"realtime_max" mapstructure:"realtime_max"`
	AdminMax    int `json:"admin_max" mapstructure:"admin_max"`
	HealthMax   int `json:"health_max" mapstructure:"health_max"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          3000,
			AllowedOrigin: "*",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   500,
		},
		Chat: ChatConfig{
			SystemPrompt:     "You are a helpful assistant. Keep your answers concise and friendly.",
			ContextWindow:    10,
			MaxMessageLength: 4000,
			AllowedModels: []string{
				"gpt-4o",
				"gpt-4o-mini",
				"gpt-4-turbo",
				"gpt-3.5-turbo",
				"claude-sonnet-4-20250514",
				"claude-3-5-haiku-20241022",
			},
		},
		Session: SessionConfig{
			MaxIdle:       24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			GeneralMax:  100,
			ChatMax:     10,
			RealtimeMax: 20,
			AdminMax:    50,
			HealthMax:   60,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks that required configuration is present. A missing API key
// is fatal at startup.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api key is required (set CHATRELAY_LLM_API_KEY)")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Chat.ContextWindow <= 0 {
		return fmt.Errorf("context window must be positive")
	}

	return nil
}
