package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the discovery server
type Config struct {
	// Server configuration
	HTTPPort int    `env:"DISCOVER_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"DISCOVER_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backend for session state and events: memory or redis
	StoreBackend string `env:"DISCOVER_STORE_BACKEND" envDefault:"memory"`

	// Redis configuration
	Redis RedisConfig

	// Worker configuration
	Workers WorkerConfig

	// Discovery configuration
	Discovery DiscoveryConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Retention of state keys and event streams
	StateTTL        time.Duration `env:"REDIS_STATE_TTL" envDefault:"24h"`
	StreamMaxLength int64         `env:"REDIS_STREAM_MAX_LENGTH" envDefault:"10000"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"4"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"64"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// DiscoveryConfig holds discovery and session configuration
type DiscoveryConfig struct {
	// Significance level of the PC independence tests
	Alpha float64 `env:"DISCOVER_PC_ALPHA" envDefault:"0.05"`

	// Largest conditioning set of the PC independence tests (0 or 1)
	MaxConditioning int `env:"DISCOVER_PC_MAX_CONDITIONING" envDefault:"1"`

	// Sessions idle for longer than SessionTTL are deleted; 0 keeps them
	SessionTTL   time.Duration `env:"DISCOVER_SESSION_TTL" envDefault:"2h"`
	ReapInterval time.Duration `env:"DISCOVER_REAP_INTERVAL" envDefault:"1m"`

	// Upper bound for uploaded datasets
	MaxDatasetBytes int64 `env:"DISCOVER_MAX_DATASET_BYTES" envDefault:"33554432"` // 32 MiB
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate store backend
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s (must be memory or redis)", c.StoreBackend)
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("worker queue size must not be negative")
	}

	// Validate discovery config
	if c.Discovery.Alpha <= 0 || c.Discovery.Alpha >= 1 {
		return fmt.Errorf("invalid PC alpha: %v (must be between 0 and 1)", c.Discovery.Alpha)
	}
	if c.Discovery.MaxConditioning < 0 || c.Discovery.MaxConditioning > 1 {
		return fmt.Errorf("invalid PC max conditioning: %d (must be 0 or 1)", c.Discovery.MaxConditioning)
	}
	if c.Discovery.SessionTTL > 0 && c.Discovery.ReapInterval <= 0 {
		return fmt.Errorf("reap interval must be positive when session TTL is set")
	}
	if c.Discovery.MaxDatasetBytes <= 0 {
		return fmt.Errorf("max dataset size must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
