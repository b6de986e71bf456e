// ABOUTME: Configuration loading and parsing for the agent-runtime daemon
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agent-runtime configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Adapters   AdaptersConfig   `yaml:"adapters"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the HTTP API listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CatalogConfig points at the published agent definition catalog
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// SupervisorConfig holds supervisor timing and queue configuration
type SupervisorConfig struct {
	TokenSecret string `yaml:"token_secret"`
	Consumers   int    `yaml:"consumers"`

	QueuePollInterval    time.Duration `yaml:"-"`
	HeartbeatInterval    time.Duration `yaml:"-"`
	HeartbeatTimeout     time.Duration `yaml:"-"`
	RetryBackoffBase     time.Duration `yaml:"-"`
	UninstallGracePeriod time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	QueuePollIntervalRaw    string `yaml:"queue_poll_interval"`
	HeartbeatIntervalRaw    string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw     string `yaml:"heartbeat_timeout"`
	RetryBackoffBaseRaw     string `yaml:"retry_backoff_base"`
	UninstallGracePeriodRaw string `yaml:"uninstall_grace_period"`
}

// AdaptersConfig holds per-runtime adapter settings
type AdaptersConfig struct {
	RemoteEndpoint string `yaml:"remote_endpoint"`

	RemoteWriteTimeout    time.Duration `yaml:"-"`
	RemoteWriteTimeoutRaw string        `yaml:"remote_write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
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
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if c.Supervisor.TokenSecret == "" {
		return fmt.Errorf("supervisor.token_secret is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"supervisor.queue_poll_interval", cfg.Supervisor.QueuePollIntervalRaw, &cfg.Supervisor.QueuePollInterval},
		{"supervisor.heartbeat_interval", cfg.Supervisor.HeartbeatIntervalRaw, &cfg.Supervisor.HeartbeatInterval},
		{"supervisor.heartbeat_timeout", cfg.Supervisor.HeartbeatTimeoutRaw, &cfg.Supervisor.HeartbeatTimeout},
		{"supervisor.retry_backoff_base", cfg.Supervisor.RetryBackoffBaseRaw, &cfg.Supervisor.RetryBackoffBase},
		{"supervisor.uninstall_grace_period", cfg.Supervisor.UninstallGracePeriodRaw, &cfg.Supervisor.UninstallGracePeriod},
		{"adapters.remote_write_timeout", cfg.Adapters.RemoteWriteTimeoutRaw, &cfg.Adapters.RemoteWriteTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
