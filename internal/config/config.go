// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Scoring configuration
	Metric MetricConfig `yaml:"metric"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"TSRR_HOST" yaml:"host"`
	Port            int           `envconfig:"TSRR_PORT" yaml:"port"`
	ReadTimeout     time.Duration `envconfig:"TSRR_READ_TIMEOUT" yaml:"read_timeout"`
	WriteTimeout    time.Duration `envconfig:"TSRR_WRITE_TIMEOUT" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `envconfig:"TSRR_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
}

// MetricConfig holds the TsRR scoring defaults.
type MetricConfig struct {
	Variant   string  `envconfig:"TSRR_VARIANT" yaml:"variant"`     // combinatorial | log-penalty
	Alpha     float64 `envconfig:"TSRR_ALPHA" yaml:"alpha"`         // log-penalty only
	Reduction string  `envconfig:"TSRR_REDUCTION" yaml:"reduction"` // mean | none
	Workers   int     `envconfig:"TSRR_WORKERS" yaml:"workers"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"TSRR_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"TSRR_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"TSRR_KAFKA_GROUP" yaml:"kafka_group"`
	RedisURL     string `envconfig:"TSRR_REDIS_URL" yaml:"redis_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"TSRR_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"TSRR_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	RateLimit   float64 `envconfig:"TSRR_RATE_LIMIT" yaml:"rate_limit"` // req/s per client, 0 = disabled
	RateBurst   int     `envconfig:"TSRR_RATE_BURST" yaml:"rate_burst"`
	CORSOrigins string  `envconfig:"TSRR_CORS_ORIGINS" yaml:"cors_origins"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"TSRR_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"TSRR_METRICS_PATH" yaml:"metrics_path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Metric: MetricConfig{
			Variant:   "combinatorial",
			Alpha:     0.5,
			Reduction: "mean",
			Workers:   4,
		},
		Bus: BusConfig{
			Type:       "memory",
			KafkaGroup: "tsrr",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Security: SecurityConfig{
			RateLimit:   0,
			RateBurst:   200,
			CORSOrigins: "*",
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPath:    "/metrics",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	validVariants := map[string]bool{"combinatorial": true, "log-penalty": true}
	if !validVariants[c.Metric.Variant] {
		errs = append(errs, fmt.Sprintf("invalid variant: %s (must be combinatorial or log-penalty)", c.Metric.Variant))
	}

	// alpha is only read by log-penalty but a non-positive default would
	// surprise whoever switches the variant later.
	if !(c.Metric.Alpha > 0) {
		errs = append(errs, "alpha must be positive")
	}

	validReductions := map[string]bool{"mean": true, "none": true}
	if !validReductions[c.Metric.Reduction] {
		errs = append(errs, fmt.Sprintf("invalid reduction: %s (must be mean or none)", c.Metric.Reduction))
	}

	if c.Metric.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true, "redis": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory, kafka, or redis)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for kafka bus")
	}
	if c.Bus.Type == "redis" && c.Bus.RedisURL == "" {
		errs = append(errs, "redis_url is required for redis bus")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Security.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}
	if c.Security.RateLimit > 0 && c.Security.RateBurst < 1 {
		errs = append(errs, "rate_burst must be positive when rate limiting is enabled")
	}

	if c.Observability.MetricsEnabled && !strings.HasPrefix(c.Observability.MetricsPath, "/") {
		errs = append(errs, "metrics_path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
