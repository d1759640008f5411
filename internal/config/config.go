package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/foxzi/copymode/internal/ipfilter"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"` // Prometheus metrics configuration
	Tracker TrackerConfig `yaml:"tracker"` // Task tracker holding campaign copy
	History HistoryConfig `yaml:"history"`
	Proof   ProofConfig   `yaml:"proof"` // Proof e-mails through an SMTP submission server
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`
}

// TrackerConfig points at the task tracker API
type TrackerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"` // empty disables pull and push
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig bounds per-campaign version history
type HistoryConfig struct {
	MaxVersions int `yaml:"max_versions"` // 0 = unlimited
}

// ProofConfig contains proof e-mail submission settings
type ProofConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Addr               string        `yaml:"addr"` // host:port of the submission server
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	From               string        `yaml:"from"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{
		// Unset means the default, an explicit 0 means unlimited
		History: HistoryConfig{MaxVersions: -1},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{History: HistoryConfig{MaxVersions: -1}}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
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

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/copymode/copymode.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Tracker.BaseURL == "" {
		c.Tracker.BaseURL = "https://api.clickup.com/api/v2"
	}
	if c.Tracker.Timeout == 0 {
		c.Tracker.Timeout = 30 * time.Second
	}

	if c.History.MaxVersions == -1 {
		c.History.MaxVersions = 100
	}

	if c.Proof.Timeout == 0 {
		c.Proof.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.History.MaxVersions < 0 {
		return fmt.Errorf("history.max_versions must not be negative")
	}

	if c.Proof.Enabled {
		if c.Proof.Addr == "" {
			return fmt.Errorf("proof.addr is required when proofs are enabled")
		}
		if c.Proof.From == "" {
			return fmt.Errorf("proof.from is required when proofs are enabled")
		}
	}

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := ipfilter.Parse(c.API.AllowedIPs, discard); err != nil {
		return fmt.Errorf("api.allowed_ips: %w", err)
	}
	if _, err := ipfilter.Parse(c.Metrics.AllowedIPs, discard); err != nil {
		return fmt.Errorf("metrics.allowed_ips: %w", err)
	}

	return nil
}

// HasTracker reports whether tracker sync is configured
func (c *Config) HasTracker() bool {
	return c.Tracker.Token != ""
}
