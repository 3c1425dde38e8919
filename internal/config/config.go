// ABOUTME: Configuration loading and parsing for chat-relay workers
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-relay worker configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Bus      BusConfig      `yaml:"bus"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the worker's listen address. The external supervisor
// assigns each worker process its own port; the CLI -port flag overrides
// HTTPAddr for that purpose.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the shared message log location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BusConfig selects the broadcast backplane. Single-worker deployments can
// run on the in-memory bus; multi-worker deployments need redis.
type BusConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Channel string      `yaml:"channel"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis backplane connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SessionConfig holds connection-session tuning
type SessionConfig struct {
	RecoveryGrace time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RecoveryGraceRaw string `yaml:"recovery_grace"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Bus.Backend {
	case "", "memory":
		// in-process bus, nothing more to check
	case "redis":
		if c.Bus.Redis.Addr == "" {
			return fmt.Errorf("bus.redis.addr is required when bus.backend is redis")
		}
	default:
		return fmt.Errorf("bus.backend must be \"memory\" or \"redis\", got %q", c.Bus.Backend)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Session.RecoveryGraceRaw != "" {
		var err error
		cfg.Session.RecoveryGrace, err = time.ParseDuration(cfg.Session.RecoveryGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing recovery_grace %q: %w", cfg.Session.RecoveryGraceRaw, err)
		}
	}

	return nil
}
