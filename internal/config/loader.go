package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads configuration from an optional JSON file and the environment.
// Environment variables use the CHATRELAY_ prefix with underscores for
// nesting, e.g. CHATRELAY_LLM_API_KEY or CHATRELAY_SERVER_PORT.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	// Register every key with its default so env lookups resolve
	defaults := DefaultConfig()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.allowed_origin", defaults.Server.AllowedOrigin)
	v.SetDefault("llm.provider", defaults.LLM.Provider)
	v.SetDefault("llm.api_key", defaults.LLM.APIKey)
	v.SetDefault("llm.model", defaults.LLM.Model)
	v.SetDefault("llm.temperature", defaults.LLM.Temperature)
	v.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)
	v.SetDefault("chat.system_prompt", defaults.Chat.SystemPrompt)
	v.SetDefault("chat.context_window", defaults.Chat.ContextWindow)
	v.SetDefault("chat.max_message_length", defaults.Chat.MaxMessageLength)
	v.SetDefault("chat.allowed_models", defaults.Chat.AllowedModels)
	v.SetDefault("session.max_idle", defaults.Session.MaxIdle)
	v.SetDefault("session.sweep_interval", defaults.Session.SweepInterval)
	v.SetDefault("rate_limit.general_max", defaults.RateLimit.GeneralMax)
	v.SetDefault("rate_limit.chat_max", defaults.RateLimit.ChatMax)
	v.SetDefault("rate_limit.realtime_max", defaults.RateLimit.RealtimeMax)
	v.SetDefault("rate_limit.admin_max", defaults.RateLimit.AdminMax)
	v.SetDefault("rate_limit.health_max", defaults.RateLimit.HealthMax)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.console", defaults.Logging.Console)
	v.SetDefault("logging.pretty", defaults.Logging.Pretty)

	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", l.configPath)
		}
		v.SetConfigFile(l.configPath)
		v.SetConfigType("json")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fall back to the provider SDKs' conventional variables so existing
	// environments keep working.
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	return cfg, nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
