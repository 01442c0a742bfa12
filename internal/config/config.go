// Package config loads engine and runner configuration from a YAML file
// with environment variable overrides, following the Load/Validate shape
// used across the example corpus's market-making and trading services.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP+WS API surface.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// EngineConfig controls defaults applied when a runner is added without
// an explicit per-runner override, plus the size of the engine's worker
// pool (used to stop runners in parallel at shutdown).
type EngineConfig struct {
	DefaultWindowCapacity int `mapstructure:"default_window_capacity"`
	FanoutWorkers         int `mapstructure:"fanout_workers"`
}

// RunnerConfig mirrors internal/runner.Config's fields for YAML/env loading.
type RunnerConfig struct {
	WindowCapacity int  `mapstructure:"window_capacity"`
	StopOnError    bool `mapstructure:"stop_on_error"`
	LogActions     bool `mapstructure:"log_actions"`
	LogPositions   bool `mapstructure:"log_positions"`
	CollectMetrics bool `mapstructure:"collect_metrics"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Default returns the built-in defaults, used when no config file is
// supplied (e.g. cmd/server without -config).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			DefaultWindowCapacity: 100,
			FanoutWorkers:         0,
		},
		Runner: RunnerConfig{
			WindowCapacity: 100,
			StopOnError:    false,
			LogActions:     true,
			LogPositions:   true,
			CollectMetrics: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads config from a YAML file, falling back to Default() values for
// any field the file omits. Env vars prefixed STRATRUNNER_ override file
// values, with "." replaced by "_" (e.g. STRATRUNNER_SERVER_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("STRATRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("engine.default_window_capacity", d.Engine.DefaultWindowCapacity)
	v.SetDefault("engine.fanout_workers", d.Engine.FanoutWorkers)
	v.SetDefault("runner.window_capacity", d.Runner.WindowCapacity)
	v.SetDefault("runner.stop_on_error", d.Runner.StopOnError)
	v.SetDefault("runner.log_actions", d.Runner.LogActions)
	v.SetDefault("runner.log_positions", d.Runner.LogPositions)
	v.SetDefault("runner.collect_metrics", d.Runner.CollectMetrics)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0,65535]")
	}
	if c.Engine.DefaultWindowCapacity <= 0 {
		return fmt.Errorf("engine.default_window_capacity must be > 0")
	}
	if c.Runner.WindowCapacity <= 0 {
		return fmt.Errorf("runner.window_capacity must be > 0")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}
