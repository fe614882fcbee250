package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Cloud           CloudConfig       `yaml:"cloud"`
	Reconciler      ReconcilerConfig  `yaml:"reconciler"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	API             APIConfig         `yaml:"api"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// CloudConfig contains vendor cloud API settings
type CloudConfig struct {
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout for cloud requests
	PollInterval Duration `yaml:"poll_interval"`  // Interval between device polls (default: 5s)
	OnMode       string   `yaml:"on_mode"`        // Mode sent when a bulb is switched on locally
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Upstream command rate (default: 5)

	// CoalesceWindow sends only the last of a burst of commands for one
	// accessory once it has been quiet this long. Zero sends every command.
	CoalesceWindow Duration `yaml:"coalesce_window"`
}

// ReconcilerConfig contains reconciler settings
type ReconcilerConfig struct {
	// LocalGrace suppresses poll-driven overwrites of an accessory changed
	// locally within this window. Zero means last writer wins.
	LocalGrace *Duration `yaml:"local_grace"`
}

// GetLocalGrace returns the debounce window with default
func (c *ReconcilerConfig) GetLocalGrace() time.Duration {
	if c.LocalGrace == nil {
		return 10 * time.Second
	}
	return c.LocalGrace.Duration()
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 1, keeps commands in order)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// APIConfig contains the local control API settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from raw YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./bulbsync.sqlite"
	}

	// Cloud defaults
	cfg.Cloud.BaseURL = strings.TrimRight(cfg.Cloud.BaseURL, "/")
	if cfg.Cloud.Timeout == 0 {
		cfg.Cloud.Timeout = Duration(10 * time.Second)
	}
	if cfg.Cloud.PollInterval == 0 {
		cfg.Cloud.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Cloud.OnMode == "" {
		cfg.Cloud.OnMode = "calm5"
	}
	if cfg.Cloud.RateLimitRPS == 0 {
		cfg.Cloud.RateLimitRPS = 5.0
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8581
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// Missing lists required cloud settings that are not set. They are not
// fatal: the daemon starts and every cloud request fails.
func (c *Config) Missing() []string {
	var missing []string
	if c.Cloud.BaseURL == "" {
		missing = append(missing, "cloud.base_url")
	}
	if c.Cloud.APIKey == "" {
		missing = append(missing, "cloud.api_key")
	}
	return missing
}

// GetShutdownTimeout returns the shutdown timeout as time.Duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
