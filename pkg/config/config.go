// Package config loads the process configuration from a YAML file with
// environment-variable expansion, following the pattern used throughout the
// rest of this codebase: one struct tree, unmarshal, then Validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration, shared by cmd/apiserver and
// cmd/worker (each binary only reads the sections it needs).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Broker     BrokerConfig     `yaml:"broker"`
	BlobStore  BlobStoreConfig  `yaml:"blob_store"`
	Auth       AuthConfig       `yaml:"auth"`
	Worker     WorkerConfig     `yaml:"worker"`
	Providers  []ProviderConfig `yaml:"providers"`
	RateLimits map[string]int   `yaml:"rate_limits"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig is the HTTP listener configuration for cmd/apiserver.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig is the Postgres connection configuration.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MigrationsPath  string `yaml:"migrations_path"`
}

// BrokerConfig is the redis connection configuration used by the EventBus
// and as the queue's wake-signal transport.
type BrokerConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BlobStoreConfig configures the content-addressed blob capability.
type BlobStoreConfig struct {
	Provider string                 `yaml:"provider"`
	Config   map[string]interface{} `yaml:"config"`
}

// AuthConfig holds JWT signing and token-lifetime settings.
type AuthConfig struct {
	AccessTokenSecret  string        `yaml:"access_token_secret"`
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl"`
	BcryptCost         int           `yaml:"bcrypt_cost"`
}

// WorkerConfig tunes the TransformationExecutor pool.
type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	LeaseTTL    time.Duration `yaml:"lease_ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ProviderConfig describes one entry in the ordered ProviderRegistry.
type ProviderConfig struct {
	Name        string                 `yaml:"name"`
	Kind        string                 `yaml:"kind"`
	Priority    int                    `yaml:"priority"`
	Config      map[string]interface{} `yaml:"config"`
}

// LoggingConfig selects the Logger backend.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LokiURL string `yaml:"loki_url"`
}

// Load reads path, expands ${VAR} references against the process
// environment, unmarshals into Config, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 12
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.LeaseTTL == 0 {
		c.Worker.LeaseTTL = 2 * time.Minute
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 5
	}
	if c.Worker.BackoffBase == 0 {
		c.Worker.BackoffBase = time.Second
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 500 * time.Millisecond
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks required fields are present.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Broker.Addr == "" {
		return fmt.Errorf("broker addr is required")
	}
	if c.Auth.AccessTokenSecret == "" {
		return fmt.Errorf("auth access_token_secret is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	return nil
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
