// Package config provides configuration management for ThreatLens.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lvonguyen/threatlens/internal/trends"
	"gopkg.in/yaml.v3"
)

// Config holds all ThreatLens configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Engine    EngineConfig    `yaml:"engine"`
	NATS      NATSConfig      `yaml:"nats"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// CacheConfig holds computed-view cache settings.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// EngineConfig holds the trend engine's tunable constants.
type EngineConfig struct {
	Windows        trends.Windows `yaml:",inline"`
	MaxChartDays   int            `yaml:"max_chart_days"`
	TimelineLimit  int            `yaml:"timeline_limit"`
	VisibleDefault int            `yaml:"visible_default"`
	Timezone       string         `yaml:"timezone"`
}

// NATSConfig holds push-refresh subscription settings.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// RateLimitConfig holds API rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	IncludeHeaders    bool `yaml:"include_headers"`
}

// TelemetryConfig holds metrics and tracing settings.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    32 << 20,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PasswordEnv: "THREATLENS_REDIS_PASSWORD",
			DB:          0,
			PoolSize:    10,
		},
		Cache: CacheConfig{
			Enabled:   true,
			TTL:       5 * time.Minute,
			KeyPrefix: "threatlens:views",
		},
		Engine: EngineConfig{
			Windows:        trends.DefaultWindows(),
			MaxChartDays:   trends.DefaultMaxChartDays,
			TimelineLimit:  trends.DefaultTimelineLimit,
			VisibleDefault: 5,
			Timezone:       "UTC",
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Subject: "threatlens.snapshot.refreshed",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 120,
			IncludeHeaders:    true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "threatlens",
			Environment:    "development",
			MetricsEnabled: true,
			TracingEnabled: false,
			OTLPEndpoint:   "localhost:4317",
			SamplingRate:   0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := c.Engine.Windows.Validate(); err != nil {
		return fmt.Errorf("invalid engine windows: %w", err)
	}
	if c.Engine.TimelineLimit < 0 || c.Engine.VisibleDefault < 0 {
		return fmt.Errorf("engine limits must not be negative")
	}
	if c.Engine.MaxChartDays < c.Engine.Windows.ChartDays {
		return fmt.Errorf("engine max_chart_days %d is below chart_days %d", c.Engine.MaxChartDays, c.Engine.Windows.ChartDays)
	}
	if _, err := c.Engine.Location(); err != nil {
		return err
	}
	if c.NATS.Enabled && c.NATS.Subject == "" {
		return fmt.Errorf("nats subject is required when nats is enabled")
	}
	return nil
}

// Location resolves the engine's day-bucketing timezone.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid engine timezone %q: %w", e.Timezone, err)
	}
	return loc, nil
}

// RedisPassword returns the Redis password from the configured env var.
func (c *Config) RedisPassword() string {
	if c.Redis.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Redis.PasswordEnv)
}
