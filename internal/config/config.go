package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime settings for the collector gateway and the
// delivery worker. Both binaries share one configuration surface.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// IngestionConfig bounds request handling at the gateway.
type IngestionConfig struct {
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// BrokerConfig holds NATS connection settings.
type BrokerConfig struct {
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Token          string        `mapstructure:"token"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// CacheConfig holds Redis settings for the activity cache and rate limiter.
type CacheConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// SinkConfig holds the columnar sink (OpenSearch) settings.
type SinkConfig struct {
	URL           string        `mapstructure:"url"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	TLSSkipVerify bool          `mapstructure:"tls_skip_verify"`
	IndexPrefix   string        `mapstructure:"index_prefix"`
	ShardCount    int           `mapstructure:"shard_count"`
	ReplicaCount  int           `mapstructure:"replica_count"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// RetryConfig controls the worker's bounded exponential backoff.
type RetryConfig struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	InitialBackoffMS  int64   `mapstructure:"initial_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// ReconcilerConfig drives the optional activity-cache reconciliation loop.
// Left disabled when no Postgres DSN is configured.
type ReconcilerConfig struct {
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	Interval    time.Duration `mapstructure:"interval"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional YAML file with PAGEBEAT_*
// environment overrides on top of defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("ingestion.max_body_bytes", 1048576)
	v.SetDefault("ingestion.rate_limit_enabled", true)
	v.SetDefault("ingestion.rate_limit_requests", 1000)
	v.SetDefault("ingestion.rate_limit_window", "1m")
	v.SetDefault("broker.url", "nats://localhost:4222")
	v.SetDefault("broker.connect_timeout", "5s")
	v.SetDefault("broker.publish_timeout", "5s")
	v.SetDefault("cache.url", "redis://localhost:6379")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("sink.url", "https://localhost:9200")
	v.SetDefault("sink.username", "admin")
	v.SetDefault("sink.tls_skip_verify", true)
	v.SetDefault("sink.index_prefix", "pagebeat-events")
	v.SetDefault("sink.shard_count", 1)
	v.SetDefault("sink.replica_count", 1)
	v.SetDefault("sink.write_timeout", "5s")
	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("reconciler.interval", "1m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pagebeat")
	}

	// Environment variables override
	v.SetEnvPrefix("PAGEBEAT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would let the process run degraded.
// Missing broker or sink endpoints are startup-fatal rather than tolerated.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if c.Sink.URL == "" {
		return fmt.Errorf("sink.url is required")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.InitialBackoffMS <= 0 {
		return fmt.Errorf("retry.initial_backoff_ms must be positive")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1")
	}
	return nil
}
