package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig places a config file in the allowed directory under a
// faked home and returns its path.
func writeTestConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()

	configDir := filepath.Join(home, ".config", "dispatchd")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), perm))
	return configPath
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "dispatchd", cfg.Telemetry.ServiceName)
	assert.Equal(t, filepath.Join(home, ".local", "share", "dispatchd", "dispatchd.db"), cfg.Database.Path)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 10, cfg.Memory.Window)
	assert.True(t, cfg.Scrubber.Enabled)
	assert.Equal(t, "dispatchd", cfg.MCP.Name)
	assert.False(t, cfg.GitHub.Token.IsSet())
}

func TestLoadYAMLFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configPath := writeTestConfig(t, home, `server:
  host: 0.0.0.0
  port: 9000
  read_timeout: 45s

logging:
  level: debug
  format: console

llm:
  provider: anthropic
  api_key: sk-ant-test
  model: claude-sonnet-4-5
  temperature: 0.7

scrubber:
  enabled: false

memory:
  window: 25
`, 0600)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-ant-test", cfg.LLM.APIKey.Value())
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 25, cfg.Memory.Window)

	// Explicit false must survive even though the default is true.
	assert.False(t, cfg.Scrubber.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout.Duration())
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configPath := writeTestConfig(t, home, `server:
  port: 9000
`, 0600)

	t.Setenv("DISPATCHD_SERVER_PORT", "7777")
	t.Setenv("DISPATCHD_GITHUB_TOKEN", "ghp_env_token")
	t.Setenv("DISPATCHD_LLM_REQUESTS_PER_MINUTE", "120")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port, "environment should win over the file")
	assert.Equal(t, "ghp_env_token", cfg.GitHub.Token.Value())
	assert.Equal(t, "[REDACTED]", cfg.GitHub.Token.String())
	assert.Equal(t, 120, cfg.LLM.RequestsPerMinute)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configPath := filepath.Join(home, ".config", "dispatchd", "config.yaml")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configPath := writeTestConfig(t, home, "server:\n  port: 9000\n", 0644)

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 9000\n"), 0600))

	_, err := Load(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	large := bytes.Repeat([]byte("# padding\n"), (maxConfigFileSize/10)+1)
	configPath := writeTestConfig(t, home, string(large), 0600)

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file too large")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configPath := writeTestConfig(t, home, "server: [unclosed\n", 0600)

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configPath := writeTestConfig(t, home, "server:\n  port: 99999\n", 0600)

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		var cfg Config
		applyDefaults(&cfg)
		return &cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "unknown logging level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid logging level",
		},
		{
			name:    "unknown logging format",
			mutate:  func(c *Config) { c.Logging.Format = "text" },
			wantErr: "invalid logging format",
		},
		{
			name: "bad telemetry protocol",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Protocol = "udp"
			},
			wantErr: "invalid telemetry protocol",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
			wantErr: "sample ratio",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database path",
		},
		{
			name:    "unknown llm provider",
			mutate:  func(c *Config) { c.LLM.Provider = "bard" },
			wantErr: "unknown llm provider",
		},
		{
			name:    "zero max tokens",
			mutate:  func(c *Config) { c.LLM.MaxTokens = 0 },
			wantErr: "max tokens",
		},
		{
			name: "rate limited with zero burst",
			mutate: func(c *Config) {
				c.LLM.RequestsPerMinute = 30
				c.LLM.Burst = 0
			},
			wantErr: "burst",
		},
		{
			name:    "non-positive memory window",
			mutate:  func(c *Config) { c.Memory.Window = 0 },
			wantErr: "memory window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "dispatchd"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}
