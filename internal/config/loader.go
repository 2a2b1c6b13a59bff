package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "DISPATCHD_"
)

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DISPATCHD_SERVER_PORT, DISPATCHD_LLM_API_KEY, etc.)
//  2. YAML config file (~/.config/dispatchd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses
// the default path ~/.config/dispatchd/config.yaml. A missing file is not an
// error; defaults and environment variables still apply.
//
// # Security Considerations
//
// File Permissions: the configuration file MUST have 0600 or 0400
// permissions. Files with weaker permissions (e.g. 0644 world-readable)
// are rejected because the file may carry API keys.
//
// Path Validation: only configuration files in allowed directories can be
// loaded:
//   - ~/.config/dispatchd/ (user's config directory)
//   - /etc/dispatchd/ (system-wide config directory)
//
// Absolute paths outside these directories are rejected to prevent path
// traversal attacks.
//
// File Size Limit: configuration files larger than 1MB are rejected to
// prevent resource exhaustion attacks.
//
// # Environment Variable Mapping
//
// Environment variables are uppercased with an underscore separator. The
// transformer strips the DISPATCHD_ prefix and maps the remainder to a
// section and field name:
//
//	DISPATCHD_SERVER_PORT       -> server.port
//	DISPATCHD_LLM_API_KEY       -> llm.api_key
//	DISPATCHD_MEMORY_WINDOW     -> memory.window
//
// # Example
//
//	cfg, err := config.Load("") // use default path
//	if err != nil {
//	    log.Fatal(err)
//	}
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Use default config path if not specified
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "dispatchd", "config.yaml")
	}

	// Validate config path (even if file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		// Open file once and validate using file descriptor to avoid TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		// Validate file properties using already-opened file descriptor
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		// Read content from already-opened file
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables.
	// Example: DISPATCHD_SERVER_PORT -> server.port
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// Strategy: strip prefix, then split on the first underscore only
		// (section.field_name pattern). Field names keep their underscores.
		//
		// Examples:
		//   DISPATCHD_SERVER_PORT             -> server.port
		//   DISPATCHD_LLM_REQUESTS_PER_MINUTE -> llm.requests_per_minute
		//   DISPATCHD_GITHUB_TOKEN            -> github.token

		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)

		if len(parts) == 1 {
			// No underscore: simple field (unlikely for config)
			return lower
		}

		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Seed defaults first: Unmarshal only touches keys present in the
	// merged map, so file or env values win and everything else keeps
	// its default (including booleans that default to true).
	var cfg Config
	applyDefaults(&cfg)

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the dispatchd config directory if it doesn't exist.
// This is called during startup to ensure new users have the config directory
// ready. The directory is created with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "dispatchd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	// Resolve to absolute path and follow symlinks to prevent path traversal
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so they cannot escape the allowed directories
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// If symlink evaluation fails, continue with absPath.
		// This allows validation of paths that don't exist yet.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "dispatchd"),
		"/etc/dispatchd",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			allowed = true
			break
		}
	}

	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/dispatchd/ or /etc/dispatchd/")
	}

	return nil
}

// validateConfigFileProperties checks file permissions and size.
// This validation only runs if the file exists.
// Takes FileInfo from an already-opened file descriptor to avoid TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Check file permissions (must be 0600 or 0400).
	// Skip on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	// Check file size (max 1MB)
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for all configuration fields. It runs
// before unmarshaling, so loaded values overwrite these.
func applyDefaults(cfg *Config) {
	cfg.Server = ServerConfig{
		Host:            "127.0.0.1",
		Port:            8080,
		ReadTimeout:     Duration(30 * time.Second),
		WriteTimeout:    Duration(2 * time.Minute),
		ShutdownTimeout: Duration(10 * time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}

	cfg.Telemetry = TelemetryConfig{
		Enabled:     false,
		ServiceName: "dispatchd",
		Protocol:    "http",
		SampleRatio: 1.0,
	}

	cfg.Database = DatabaseConfig{
		Path: defaultDatabasePath(),
	}

	cfg.NATS = NATSConfig{
		Enabled: false,
		URL:     "nats://127.0.0.1:4222",
	}

	cfg.LLM = LLMConfig{
		Provider:          "openai",
		Model:             "gpt-4o-mini",
		MaxTokens:         1024,
		Temperature:       0.2,
		RequestsPerMinute: 60,
		Burst:             2,
	}

	cfg.Gemini = GeminiConfig{
		Model: "gemini-2.5-flash",
	}

	cfg.Memory = MemoryConfig{
		Window: 10,
	}

	cfg.Scrubber = ScrubberConfig{
		Enabled: true,
	}

	cfg.MCP = MCPConfig{
		Name:    "dispatchd",
		Version: "1.0.0",
	}
}

// defaultDatabasePath returns the execution log location under the user's
// state directory, falling back to the working directory when the home
// directory cannot be resolved.
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dispatchd.db"
	}
	return filepath.Join(home, ".local", "share", "dispatchd", "dispatchd.db")
}
