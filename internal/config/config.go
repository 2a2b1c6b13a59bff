// Package config provides configuration loading for dispatchd.
//
// Configuration is read from a YAML file, then overridden by DISPATCHD_*
// environment variables. Missing values fall back to defaults that let a
// bare daemon start with conversation-only capabilities.
package config

import (
	"errors"
	"fmt"
)

// Config holds the complete dispatchd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Database   DatabaseConfig   `koanf:"database"`
	NATS       NATSConfig       `koanf:"nats"`
	LLM        LLMConfig        `koanf:"llm"`
	Gemini     GeminiConfig     `koanf:"gemini"`
	GitHub     GitHubConfig     `koanf:"github"`
	Postgres   PostgresConfig   `koanf:"postgres"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Memory     MemoryConfig     `koanf:"memory"`
	Scrubber   ScrubberConfig   `koanf:"scrubber"`
	MCP        MCPConfig        `koanf:"mcp"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ReadTimeout     Duration `koanf:"read_timeout"`
	WriteTimeout    Duration `koanf:"write_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
}

// TelemetryConfig holds OpenTelemetry export configuration.
//
// An empty endpoint leaves the exporter on its default collector address
// (localhost:4318 for http, localhost:4317 for grpc).
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // http, grpc
	Insecure    bool    `koanf:"insecure"` // plaintext export, local endpoints only
	SampleRatio float64 `koanf:"sample_ratio"`
}

// DatabaseConfig holds the execution log storage configuration.
type DatabaseConfig struct {
	Path string `koanf:"path"` // SQLite database file
}

// NATSConfig holds the event publisher configuration.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// LLMConfig holds the chat model configuration.
//
// Provider selects the backing API: "openai" works with any
// OpenAI-compatible endpoint (set base_url for Groq, Ollama, etc.),
// "anthropic" uses the Anthropic Messages API.
type LLMConfig struct {
	Provider          string  `koanf:"provider"`
	BaseURL           string  `koanf:"base_url"`
	APIKey            Secret  `koanf:"api_key"`
	Model             string  `koanf:"model"`
	MaxTokens         int     `koanf:"max_tokens"`
	Temperature       float64 `koanf:"temperature"`
	RequestsPerMinute int     `koanf:"requests_per_minute"`
	Burst             int     `koanf:"burst"`
}

// GeminiConfig holds the code generation model configuration.
type GeminiConfig struct {
	APIKey Secret `koanf:"api_key"`
	Model  string `koanf:"model"`
}

// GitHubConfig holds repository service credentials.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// PostgresConfig holds the relational query service connection.
// The URL is a secret because DSNs embed passwords.
type PostgresConfig struct {
	URL Secret `koanf:"url"`
}

// ClassifierConfig holds request classification overrides.
type ClassifierConfig struct {
	RulesPath string `koanf:"rules_path"` // optional YAML rules file, hot reloaded
}

// MemoryConfig holds conversation memory configuration.
type MemoryConfig struct {
	Window int `koanf:"window"` // retained turns per session
}

// ScrubberConfig holds secret scrubbing configuration for persisted records.
type ScrubberConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"` // optional TOML allowlist
}

// MCPConfig holds the MCP server identity.
type MCPConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Timeouts are not positive
//   - Logging level or format is unknown
//   - Telemetry protocol is not http or grpc, or sample ratio is outside [0, 1]
//   - Database path is empty
//   - LLM provider is unknown or token limits are not positive
//   - Memory window is not positive
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout.Duration() <= 0 {
		return errors.New("server read timeout must be positive")
	}
	if c.Server.WriteTimeout.Duration() <= 0 {
		return errors.New("server write timeout must be positive")
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("telemetry service name required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "http", "grpc":
		default:
			return fmt.Errorf("invalid telemetry protocol: %q (must be http or grpc)", c.Telemetry.Protocol)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be in [0, 1], got %v", c.Telemetry.SampleRatio)
	}

	if c.Database.Path == "" {
		return errors.New("database path must not be empty")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider: %q (must be openai or anthropic)", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm max tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm requests per minute cannot be negative, got %d", c.LLM.RequestsPerMinute)
	}
	if c.LLM.RequestsPerMinute > 0 && c.LLM.Burst < 1 {
		return fmt.Errorf("llm burst must be positive when rate limiting is enabled, got %d", c.LLM.Burst)
	}

	if c.Memory.Window < 1 {
		return fmt.Errorf("memory window must be positive, got %d", c.Memory.Window)
	}

	if c.MCP.Name == "" || c.MCP.Version == "" {
		return errors.New("mcp name and version must not be empty")
	}

	return nil
}
