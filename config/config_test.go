package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolserve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Empty(t, cfg.Server.BasePath)
	assert.Equal(t, 300, cfg.Tools.DefaultTimeout)
	assert.Equal(t, 3, cfg.Tools.DefaultRetryAttempts)
	assert.False(t, cfg.Durable.Enabled)
	assert.Equal(t, "toolserve", cfg.Durable.Queue)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9000
  base_path: /api/
tools:
  default_timeout: 60
durable:
  enabled: false
  queue: tools
log:
  format: console
`)
	t.Setenv("TOOLSERVE_DURABLE_ENABLED", "true")
	t.Setenv("TOOLSERVE_TOOLS_DEFAULT_RETRY_ATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, 60, cfg.Tools.DefaultTimeout)
	assert.Equal(t, 5, cfg.Tools.DefaultRetryAttempts)
	assert.True(t, cfg.Durable.Enabled, "env overrides file")
	assert.Equal(t, "tools", cfg.Durable.Queue)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOOLSERVE_SERVER_PORT=8123\n"), 0o600))
	// godotenv sets process variables; register cleanup before they appear
	t.Setenv("TOOLSERVE_SERVER_PORT", "")
	require.NoError(t, os.Unsetenv("TOOLSERVE_SERVER_PORT"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "tools:\n  default_timeout: 0\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "default_timeout")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8000},
			Tools:  ToolsConfig{DefaultTimeout: 10, DefaultRetryAttempts: 1, MaxBatchSize: 10},
			Durable: DurableConfig{
				Addr: "localhost:6379", Queue: "q", Concurrency: 1,
			},
			Log: LogConfig{Format: "json"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"negative timeout", func(c *Config) { c.Server.WriteTimeout = -1 }},
		{"attempts", func(c *Config) { c.Tools.DefaultRetryAttempts = 0 }},
		{"concurrency", func(c *Config) { c.Tools.MaxConcurrency = -1 }},
		{"batch size", func(c *Config) { c.Tools.MaxBatchSize = 0 }},
		{"durable queue", func(c *Config) { c.Durable.Enabled = true; c.Durable.Queue = "" }},
		{"durable addr", func(c *Config) { c.Durable.Enabled = true; c.Durable.Addr = "" }},
		{"durable workers", func(c *Config) { c.Durable.Enabled = true; c.Durable.Concurrency = 0 }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"server mode", func(c *Config) { c.Server.Mode = "prod" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestToolsConfig_Policy(t *testing.T) {
	p := ToolsConfig{DefaultTimeout: 30, DefaultRetryAttempts: 5}.Policy()
	assert.Equal(t, 30, p.TimeoutSeconds)
	require.NotNil(t, p.Retry)
	assert.Equal(t, 5, p.Retry.MaxAttempts)
	assert.Equal(t, 2.0, p.Retry.BackoffCoefficient)

	def := ToolsConfig{}.Policy()
	assert.Equal(t, 300, def.TimeoutSeconds)
	assert.Equal(t, 3, def.Retry.MaxAttempts)
}

func TestNormalizeBasePath(t *testing.T) {
	assert.Empty(t, normalizeBasePath(""))
	assert.Empty(t, normalizeBasePath("/"))
	assert.Equal(t, "/api", normalizeBasePath("api"))
	assert.Equal(t, "/api/v1", normalizeBasePath("/api/v1/"))
}
