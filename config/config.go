// Package config loads the toolserve configuration: built-in defaults, then an optional YAML file,
// then a .env file, then TOOLSERVE_* environment variables (e.g. TOOLSERVE_DURABLE_ENABLED).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/skosovsky/toolserve"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "TOOLSERVE"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Durable DurableConfig `mapstructure:"durable"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	BasePath        string `mapstructure:"base_path"`
	Mode            string `mapstructure:"mode"`          // gin mode: debug, release, test
	ReadTimeout     int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout    int    `mapstructure:"write_timeout"` // seconds, must outlast the longest tool timeout
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ToolsConfig struct {
	DefaultTimeout       int `mapstructure:"default_timeout"` // seconds
	DefaultRetryAttempts int `mapstructure:"default_retry_attempts"`
	MaxConcurrency       int `mapstructure:"max_concurrency"`   // 0 = unlimited
	BatchConcurrency     int `mapstructure:"batch_concurrency"` // 0 = engine default
	MaxBatchSize         int `mapstructure:"max_batch_size"`
}

// Policy returns the engine default policy with the configured timeout and attempts.
func (c ToolsConfig) Policy() toolserve.ExecutionPolicy {
	p := toolserve.DefaultPolicy()
	if c.DefaultTimeout > 0 {
		p.TimeoutSeconds = c.DefaultTimeout
	}
	if c.DefaultRetryAttempts > 0 {
		p.Retry.MaxAttempts = c.DefaultRetryAttempts
	}
	return p
}

// DurableConfig selects the durable backend. Enabled is explicit: it is never inferred from redis being reachable.
type DurableConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	Namespace   string `mapstructure:"namespace"`
	Queue       string `mapstructure:"queue"`
	Concurrency int    `mapstructure:"concurrency"`
	RunWorker   bool   `mapstructure:"run_worker"` // process the queue in the serving process
	WaitSlack   int    `mapstructure:"wait_slack"` // seconds
	Retention   int    `mapstructure:"retention"`  // seconds
}

type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 30)

	v.SetDefault("tools.default_timeout", toolserve.DefaultTimeoutSeconds)
	v.SetDefault("tools.default_retry_attempts", toolserve.DefaultMaxAttempts)
	v.SetDefault("tools.max_concurrency", 0)
	v.SetDefault("tools.batch_concurrency", 0)
	v.SetDefault("tools.max_batch_size", 100)

	v.SetDefault("durable.enabled", false)
	v.SetDefault("durable.addr", "localhost:6379")
	v.SetDefault("durable.password", "")
	v.SetDefault("durable.db", 0)
	v.SetDefault("durable.namespace", "toolserve")
	v.SetDefault("durable.queue", "toolserve")
	v.SetDefault("durable.concurrency", 10)
	v.SetDefault("durable.run_worker", true)
	v.SetDefault("durable.wait_slack", 5)
	v.SetDefault("durable.retention", 3600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
}

// Load reads the configuration. With an empty path, toolserve.yaml is looked up in . and ./config
// and is optional; an explicit path must exist. A .env file in the working directory is loaded first
// and never overrides variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("toolserve")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server.BasePath = normalizeBasePath(cfg.Server.BasePath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	case c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0:
		return errors.New("config: server timeouts must not be negative")
	case c.Tools.DefaultTimeout <= 0:
		return fmt.Errorf("config: tools.default_timeout must be positive, got %d", c.Tools.DefaultTimeout)
	case c.Tools.DefaultRetryAttempts <= 0:
		return fmt.Errorf("config: tools.default_retry_attempts must be positive, got %d", c.Tools.DefaultRetryAttempts)
	case c.Tools.MaxConcurrency < 0 || c.Tools.BatchConcurrency < 0:
		return errors.New("config: tools concurrency limits must not be negative")
	case c.Tools.MaxBatchSize <= 0:
		return fmt.Errorf("config: tools.max_batch_size must be positive, got %d", c.Tools.MaxBatchSize)
	}
	if c.Durable.Enabled {
		switch {
		case c.Durable.Addr == "":
			return errors.New("config: durable.addr is required when durable.enabled is set")
		case c.Durable.Queue == "":
			return errors.New("config: durable.queue is required when durable.enabled is set")
		case c.Durable.Concurrency <= 0:
			return fmt.Errorf("config: durable.concurrency must be positive, got %d", c.Durable.Concurrency)
		}
	}
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode must be debug, release or test, got %q", c.Server.Mode)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// Seconds converts a seconds setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
