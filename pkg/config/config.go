package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Rate limit store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Gateway       GatewayConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RedisConfig holds the connection settings of the shared store.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	Issuer string
	Secret string
}

// RateLimitConfig holds the rate limiter settings that come from the environment.
type RateLimitConfig struct {
	Store            string
	ForwardSecret    string
	ForwardSingleUse bool
	MemoryMaxKeys    int
	SampleSchedule   string
}

// GatewayConfig holds the gateway file location and its parsed contents.
type GatewayConfig struct {
	File   string
	Rules  []RuleConfig
	Routes []RouteConfig
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelEnvironment    string
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from a .env file, the environment and the gateway file.
func LoadConfig() (*Config, error) {
	// A missing .env file is the normal case in production.
	_ = godotenv.Load()

	cfg := &Config{
		Server:        loadServerConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Gateway:       GatewayConfig{File: getEnv("TURNSTILE_GATEWAY_FILE", "")},
		Observability: loadObservabilityConfig(),
	}

	if cfg.Gateway.File != "" {
		file, err := LoadGatewayFile(cfg.Gateway.File)
		if err != nil {
			return nil, err
		}
		cfg.Gateway.Rules = file.RateLimit.Rules
		cfg.Gateway.Routes = file.Routes
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TURNSTILE_HOST", "0.0.0.0"),
		Port:            getEnv("TURNSTILE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TURNSTILE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TURNSTILE_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("TURNSTILE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TURNSTILE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("TURNSTILE_MAX_BODY_BYTES", 10<<20),
		HealthPort:      getEnv("TURNSTILE_HEALTH_PORT", "9090"),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("TURNSTILE_REDIS_URL", "redis://localhost:6379/0"),
		Password:   getEnv("TURNSTILE_REDIS_PASSWORD", ""),
		DB:         getEnvInt("TURNSTILE_REDIS_DB", -1),
		PoolSize:   getEnvInt("TURNSTILE_REDIS_POOL_SIZE", 0),
		MaxRetries: getEnvInt("TURNSTILE_REDIS_MAX_RETRIES", 0),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Issuer: getEnv("TURNSTILE_JWT_ISSUER", ""),
		Secret: getEnv("TURNSTILE_JWT_SECRET", ""),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Store:            strings.ToLower(getEnv("TURNSTILE_RATELIMIT_STORE", StoreRedis)),
		ForwardSecret:    getEnv("TURNSTILE_FORWARD_SECRET", ""),
		ForwardSingleUse: getEnvBool("TURNSTILE_FORWARD_SINGLE_USE", false),
		MemoryMaxKeys:    getEnvInt("TURNSTILE_MEMORY_MAX_KEYS", 10000),
		SampleSchedule:   getEnv("TURNSTILE_KEY_SAMPLE_SCHEDULE", "@every 1m"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TURNSTILE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TURNSTILE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TURNSTILE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TURNSTILE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TURNSTILE_OTEL_SERVICE_NAME", "turnstile"),
		OTelServiceVersion: getEnv("TURNSTILE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TURNSTILE_OTEL_INSECURE", true),
		OTelEnvironment:    getEnv("TURNSTILE_OTEL_ENVIRONMENT", ""),
		OTelSampleRatio:    getEnvFloat("TURNSTILE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.Issuer == "" {
		return fmt.Errorf("JWT issuer is required")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.RateLimit.ForwardSecret == "" {
		return fmt.Errorf("forward bypass secret is required")
	}
	switch c.RateLimit.Store {
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis rate limit store")
		}
	case StoreMemory:
		if c.RateLimit.ForwardSingleUse {
			return fmt.Errorf("single-use forward envelopes require the redis rate limit store")
		}
	default:
		return fmt.Errorf("invalid rate limit store: %s (must be redis or memory)", c.RateLimit.Store)
	}

	for i, rule := range c.Gateway.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rate limit rule %d: %w", i, err)
		}
	}
	for i, route := range c.Gateway.Routes {
		if err := route.Validate(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %g", r)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float64 environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
