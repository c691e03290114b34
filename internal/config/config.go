// Package config loads and validates the server's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Mailer  MailerConfig  `yaml:"mailer"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // FQDN used in Message-ID generation
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// APIKeyHash is the bcrypt hash of the bearer token. Empty disables auth.
	APIKeyHash   string        `yaml:"api_key_hash"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // HTTP read timeout (default: 30s)
	WriteTimeout time.Duration `yaml:"write_timeout"` // HTTP write timeout (default: 30s)
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // HTTP idle timeout (default: 60s)
}

// EngineConfig contains follow-up engine settings
type EngineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"` // Due-job scan period (default: 5m)
	Concurrency  int           `yaml:"concurrency"`   // Parallel sends (default: 4)
	SendTimeout  time.Duration `yaml:"send_timeout"`  // Per-send bound (default: 2m)
	SendRetries  int           `yaml:"send_retries"`  // Transient-failure retries per attempt
	RetryBackoff time.Duration `yaml:"retry_backoff"` // Base retry delay, doubled per retry
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path      string           `yaml:"path"`
	Retention *RetentionConfig `yaml:"retention"` // Terminal job retention settings
}

// RetentionConfig controls cleanup of completed and failed jobs
type RetentionConfig struct {
	MaxAge          time.Duration `yaml:"max_age"`          // Delete terminal jobs older than this (0 = keep forever)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // How often to run cleanup
}

// MailerConfig contains SMTP submission settings
type MailerConfig struct {
	Timeout time.Duration `yaml:"timeout"` // Dial and submit timeout (default: 30s)
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listen_addr"`      // Default: :9091
	Path            string        `yaml:"path"`             // Default: /metrics
	RefreshInterval time.Duration `yaml:"refresh_interval"` // Gauge refresh period (default: 15s)
	AllowedIPs      []string      `yaml:"allowed_ips"`      // IPs/CIDRs allowed to scrape (empty = allow all)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Engine.TickInterval == 0 {
		c.Engine.TickInterval = 5 * time.Minute
	}
	if c.Engine.Concurrency == 0 {
		c.Engine.Concurrency = 4
	}
	if c.Engine.SendTimeout == 0 {
		c.Engine.SendTimeout = 2 * time.Minute
	}
	if c.Engine.SendRetries == 0 {
		c.Engine.SendRetries = 2
	}
	if c.Engine.RetryBackoff == 0 {
		c.Engine.RetryBackoff = 15 * time.Minute
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/outreach/outreach.db"
	}
	if c.Storage.Retention == nil {
		c.Storage.Retention = &RetentionConfig{}
	}
	if c.Storage.Retention.MaxAge == 0 {
		c.Storage.Retention.MaxAge = 30 * 24 * time.Hour
	}
	if c.Storage.Retention.CleanupInterval == 0 {
		c.Storage.Retention.CleanupInterval = time.Hour
	}

	if c.Mailer.Timeout == 0 {
		c.Mailer.Timeout = 30 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9091"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.RefreshInterval == 0 {
		c.Metrics.RefreshInterval = 15 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Engine.TickInterval < time.Second {
		return fmt.Errorf("engine.tick_interval must be at least 1s, got %s", c.Engine.TickInterval)
	}
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be at least 1, got %d", c.Engine.Concurrency)
	}
	if c.Engine.SendRetries < 0 {
		return fmt.Errorf("engine.send_retries must not be negative, got %d", c.Engine.SendRetries)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}
