package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TURNSTILE_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TURNSTILE_TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("TURNSTILE_TEST_BOOL", "1")
	t.Setenv("TURNSTILE_TEST_INT", "42")
	t.Setenv("TURNSTILE_TEST_BAD_INT", "forty-two")
	t.Setenv("TURNSTILE_TEST_DURATION", "90s")
	t.Setenv("TURNSTILE_TEST_FLOAT", "0.25")

	if !getEnvBool("TURNSTILE_TEST_BOOL", false) {
		t.Error("expected getEnvBool to parse 1 as true")
	}
	if got := getEnvInt("TURNSTILE_TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("TURNSTILE_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() = %d, want default 7", got)
	}
	if got := getEnvInt64("TURNSTILE_TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt64() = %d, want 42", got)
	}
	if got := getEnvDuration("TURNSTILE_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvFloat("TURNSTILE_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvFloat("TURNSTILE_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("getEnvFloat() = %v, want default 1", got)
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", HealthPort: "9090"},
		Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
		Auth:   AuthConfig{Issuer: "accounts", Secret: "jwt-secret"},
		RateLimit: RateLimitConfig{
			Store:         StoreRedis,
			ForwardSecret: "forward-secret",
		},
		Gateway: GatewayConfig{
			Rules:  []RuleConfig{{Path: "/api", Window: 60, Max: 10}},
			Routes: []RouteConfig{{Prefix: "/api", Upstream: "http://api.internal:8080"}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "must be different",
		},
		{
			name:    "missing issuer",
			mutate:  func(c *Config) { c.Auth.Issuer = "" },
			wantErr: "issuer",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Auth.Secret = "" },
			wantErr: "JWT secret",
		},
		{
			name:    "missing forward secret",
			mutate:  func(c *Config) { c.RateLimit.ForwardSecret = "" },
			wantErr: "forward bypass secret",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.RateLimit.Store = "etcd" },
			wantErr: "invalid rate limit store",
		},
		{
			name: "single use needs redis",
			mutate: func(c *Config) {
				c.RateLimit.Store = StoreMemory
				c.RateLimit.ForwardSingleUse = true
			},
			wantErr: "single-use",
		},
		{
			name:   "memory store without single use",
			mutate: func(c *Config) { c.RateLimit.Store = StoreMemory },
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.Gateway.Rules[0].Window = 0 },
			wantErr: "window",
		},
		{
			name:    "zero max",
			mutate:  func(c *Config) { c.Gateway.Rules[0].Max = 0 },
			wantErr: "max",
		},
		{
			name:    "relative rule path",
			mutate:  func(c *Config) { c.Gateway.Rules[0].Path = "api" },
			wantErr: "must start with /",
		},
		{
			name:    "upstream without scheme",
			mutate:  func(c *Config) { c.Gateway.Routes[0].Upstream = "api.internal:8080" },
			wantErr: "upstream",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "turnstile"
			},
			wantErr: "endpoint",
		},
		{
			name:    "sample ratio above one",
			mutate:  func(c *Config) { c.Observability.OTelSampleRatio = 1.5 },
			wantErr: "sample ratio",
		},
		{
			name:    "negative sample ratio",
			mutate:  func(c *Config) { c.Observability.OTelSampleRatio = -0.1 },
			wantErr: "sample ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const sampleGatewayFile = `
rate_limit:
  rules:
    - path: /api/login
      scope_ip: true
      strict: true
      window: 60
      max: 5
    - path: /api
      window: 10
      max: 100
routes:
  - prefix: /api
    upstream: http://api.internal:8080
    strip_prefix: true
`

func TestParseGatewayFile(t *testing.T) {
	file, err := ParseGatewayFile([]byte(sampleGatewayFile))
	require.NoError(t, err)

	require.Len(t, file.RateLimit.Rules, 2)
	assert.Equal(t, RuleConfig{Path: "/api/login", ScopeIP: true, Strict: true, Window: 60, Max: 5}, file.RateLimit.Rules[0])
	assert.Equal(t, "/api", file.RateLimit.Rules[1].Path)

	require.Len(t, file.Routes, 1)
	assert.True(t, file.Routes[0].StripPrefix)
	assert.Equal(t, "http://api.internal:8080", file.Routes[0].Upstream)
}

func TestParseGatewayFile_UnknownField(t *testing.T) {
	_, err := ParseGatewayFile([]byte("rate_limit:\n  rulez: []\n"))
	assert.Error(t, err)
}

func TestParseGatewayFile_Empty(t *testing.T) {
	file, err := ParseGatewayFile(nil)
	require.NoError(t, err)
	assert.Empty(t, file.RateLimit.Rules)
	assert.Empty(t, file.Routes)
}

func TestRateLimitRules(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.Rules = append(cfg.Gateway.Rules, RuleConfig{Path: "/login", ScopeIP: true, Strict: true, Window: 300, Max: 3})

	rules := cfg.RateLimitRules()
	require.Len(t, rules, 2)
	assert.Equal(t, "/api", rules[0].PathPrefix)
	assert.Equal(t, uint(300), rules[1].WindowSeconds)
	assert.Equal(t, uint(3), rules[1].MaxPermits)
	assert.True(t, rules[1].ScopeByClientIP)
	assert.True(t, rules[1].Strict)

	assert.Equal(t, 300*time.Second, cfg.LongestWindow())
	assert.Equal(t, time.Hour, (&Config{}).LongestWindow())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGatewayFile), 0o600))

	t.Setenv("TURNSTILE_JWT_ISSUER", "accounts")
	t.Setenv("TURNSTILE_JWT_SECRET", "jwt-secret")
	t.Setenv("TURNSTILE_FORWARD_SECRET", "forward-secret")
	t.Setenv("TURNSTILE_GATEWAY_FILE", path)
	t.Setenv("TURNSTILE_LOG_LEVEL", "debug")
	t.Setenv("TURNSTILE_RATELIMIT_STORE", "MEMORY")
	t.Setenv("TURNSTILE_OTEL_ENVIRONMENT", "staging")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, StoreMemory, cfg.RateLimit.Store)
	assert.Equal(t, "@every 1m", cfg.RateLimit.SampleSchedule)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "staging", cfg.Observability.OTelEnvironment)
	assert.Equal(t, 1.0, cfg.Observability.OTelSampleRatio)
	assert.Len(t, cfg.Gateway.Rules, 2)
	assert.Len(t, cfg.Gateway.Routes, 1)
}

func TestLoadConfig_MissingSecrets(t *testing.T) {
	t.Setenv("TURNSTILE_JWT_ISSUER", "")
	t.Setenv("TURNSTILE_JWT_SECRET", "")
	t.Setenv("TURNSTILE_GATEWAY_FILE", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_MissingGatewayFile(t *testing.T) {
	t.Setenv("TURNSTILE_JWT_ISSUER", "accounts")
	t.Setenv("TURNSTILE_JWT_SECRET", "jwt-secret")
	t.Setenv("TURNSTILE_FORWARD_SECRET", "forward-secret")
	t.Setenv("TURNSTILE_GATEWAY_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadConfig()
	assert.Error(t, err)
}
