// Package config holds the proxy's ambient settings: the listen port
// default, the origin dial timeout, the origin-selection algorithm,
// health-check cadence, and tracing setup. The cache's own constants
// (MAX_CACHE_SIZE, MAX_OBJECT_SIZE) are fixed by design and are not
// configurable here — see internal/cache.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	instance *Config
	once     sync.Once
)

// Config represents the complete proxy server configuration
// Aggregates all component configurations for centralized management
// Loaded from a YAML file, with DefaultConfig filling anything unset
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Origin  OriginConfig  `yaml:"origin" json:"origin"`
	Health  HealthConfig  `yaml:"health" json:"health"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig defines the proxy's own listening behaviour.
type ServerConfig struct {
	Port        int `yaml:"port" json:"port" default:"9090"`
	MaxWorkerID int `yaml:"maxWorkerId" json:"maxWorkerId" default:"100"`
}

// OriginConfig controls how the proxy dials the origin server a
// request names.
type OriginConfig struct {
	Algorithm   string        `yaml:"algorithm" json:"algorithm" default:"round-robin"`
	DialTimeout time.Duration `yaml:"dialTimeout" json:"dialTimeout" default:"10s"`
	ResolveTTL  time.Duration `yaml:"resolveTtl" json:"resolveTtl" default:"5m"`
}

// HealthConfig defines health check configuration
// Controls background TCP-dial probing of resolved origin addresses
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" default:"true"`
	Interval time.Duration `yaml:"interval" json:"interval" default:"30s"`
}

// MetricsConfig defines where the Prometheus exposition endpoint
// listens, separate from the proxy's own raw-TCP listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr" json:"listenAddr" default:":9091"`
}

// TracingConfig defines OpenTelemetry tracing configuration
// Controls distributed tracing and observability
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled" default:"false"`
	ServiceName    string  `yaml:"serviceName" json:"serviceName" default:"fproxy"`
	ServiceVersion string  `yaml:"serviceVersion" json:"serviceVersion" default:"1.0.0"`
	Environment    string  `yaml:"environment" json:"environment" default:"development"`
	JaegerEndpoint string  `yaml:"jaegerEndpoint" json:"jaegerEndpoint"`
	OTLPEndpoint   string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRatio  float64 `yaml:"samplingRatio" json:"samplingRatio" default:"0.1"`
}

// DefaultConfig returns configuration with sensible defaults
// Provides baseline configuration for development and testing
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        9090,
			MaxWorkerID: 100,
		},
		Origin: OriginConfig{
			Algorithm:   "round-robin",
			DialTimeout: 10 * time.Second,
			ResolveTTL:  5 * time.Minute,
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9091",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "fproxy",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			SamplingRatio:  0.1,
		},
	}
}

// GetInstance returns the singleton config instance
// Uses sync.Once to ensure thread-safe lazy initialisation
func GetInstance() *Config {
	once.Do(func() {
		instance = DefaultConfig()
	})
	return instance
}

// LoadConfig loads configuration from file and installs it as the
// singleton. It shares GetInstance's sync.Once, so it only takes effect
// when called before the first GetInstance; after that the file is
// still read and validated but the singleton is left unchanged.
func LoadConfig(path string) error {
	cfg, err := loadFromFile(path)
	if err != nil {
		return err
	}

	once.Do(func() {
		instance = cfg
	})
	return nil
}

// loadFromFile reads configuration from a YAML file, starting from
// DefaultConfig so a partial file only overrides what it sets.
func loadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
