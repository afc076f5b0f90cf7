// Package config loads and validates the Omega service configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the Omega service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Registry  RegistryConfig  `yaml:"registry"`
	Vault     VaultConfig     `yaml:"vault"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Omega     OmegaConfig     `yaml:"omega"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the storage backend: "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// URL is the DSN (file path for sqlite, connection string for postgres).
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type LLMConfig struct {
	// Provider selects the model backend: "openai" (default) or "anthropic".
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

type ExecutorConfig struct {
	// URL is the executor service base URL. Defaults to the public endpoint
	// when unset; TPMJS_EXECUTOR_URL overrides.
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RegistryConfig struct {
	// SearchURL is the internal tool search endpoint base URL.
	SearchURL string        `yaml:"search_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

type VaultConfig struct {
	// Key is the base64-encoded 32-byte AES key used to unseal stored
	// credentials. OMEGA_VAULT_KEY overrides.
	Key string `yaml:"key"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// OmegaConfig tunes the turn orchestrator.
type OmegaConfig struct {
	SystemPrompt     string        `yaml:"system_prompt"`
	HistoryLimit     int           `yaml:"history_limit"`
	MaxToolSteps     int           `yaml:"max_tool_steps"`
	SearchLimit      int           `yaml:"search_limit"`
	TitleTurnCutoff  int           `yaml:"title_turn_cutoff"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	MaxMessageLength int           `yaml:"max_message_length"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			URL:             "omega.db",
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			TokenExpiry: 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Executor: ExecutorConfig{
			URL:     "https://executor.tpmjs.com",
			Timeout: 60 * time.Second,
		},
		Registry: RegistryConfig{
			Timeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 20,
			Window:   60 * time.Second,
		},
		Omega: OmegaConfig{
			HistoryLimit:     20,
			MaxToolSteps:     10,
			SearchLimit:      10,
			TitleTurnCutoff:  3,
			SessionTTL:       6 * time.Hour,
			MaxMessageLength: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file, applies defaults and environment
// overrides, and validates the result. An empty path yields the defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		data, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("normalize config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secret-bearing fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && (c.LLM.Provider == "" || c.LLM.Provider == "openai") {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = v
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.LLM.Provider == "anthropic" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = v
		}
	}
	if v := os.Getenv("TPMJS_EXECUTOR_URL"); v != "" {
		c.Executor.URL = v
	}
	if v := os.Getenv("TPMJS_REGISTRY_URL"); v != "" {
		c.Registry.SearchURL = v
	}
	if v := os.Getenv("OMEGA_VAULT_KEY"); v != "" {
		c.Vault.Key = v
	}
	if v := os.Getenv("OMEGA_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q unsupported (want sqlite or postgres)", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider %q unsupported", c.LLM.Provider)
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate_limit.requests must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
	}
	if c.Omega.MaxToolSteps <= 0 {
		return fmt.Errorf("omega.max_tool_steps must be positive")
	}
	if c.Omega.HistoryLimit <= 0 {
		return fmt.Errorf("omega.history_limit must be positive")
	}
	return nil
}
