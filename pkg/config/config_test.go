package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TENANTGUARD_AUTH_JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Store)
	assert.Equal(t, AuthModeHS256, cfg.Auth.Mode)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Billing.WebhookTolerance)
	assert.Equal(t, "@every 5m", cfg.Audit.ReplaySchedule)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TENANTGUARD_PORT", "8000")
	t.Setenv("TENANTGUARD_AUTH_MODE", "OIDC")
	t.Setenv("TENANTGUARD_AUTH_OIDC_ISSUER_URL", "https://auth.example.com")
	t.Setenv("TENANTGUARD_AUTH_OIDC_CLIENT_ID", "tenantguard")
	t.Setenv("TENANTGUARD_STORE_TIMEOUT", "750ms")
	t.Setenv("TENANTGUARD_LOG_LEVEL", "debug")
	t.Setenv("TENANTGUARD_CACHE_ENABLED", "false")
	t.Setenv("TENANTGUARD_AUDIT_WORKERS", "8")
	t.Setenv("TENANTGUARD_AUDIT_S3_BUCKET", "archive")
	t.Setenv("TENANTGUARD_OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, AuthModeOIDC, cfg.Auth.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeouts.Store)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 8, cfg.Audit.Recorder().Workers)
	assert.Equal(t, "archive", cfg.Audit.Archive.Bucket)
	assert.Equal(t, 0.25, cfg.Observability.OTel().SampleRatio)
}

func TestLoadConfigIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("TENANTGUARD_AUTH_JWT_SECRET", "secret")
	t.Setenv("TENANTGUARD_CACHE_SIZE", "lots")
	t.Setenv("TENANTGUARD_STORE_TIMEOUT", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.Cache.Size)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Store)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
			Auth:     AuthConfig{Mode: AuthModeHS256, JWTSecret: "s"},
			Timeouts: TimeoutsConfig{Store: time.Second, Resolve: time.Second},
			Audit:    AuditConfig{Workers: 1, QueueSize: 1, MaxAttempts: 1, DeadLetterPath: "/tmp/dl"},
			Cache:    CacheConfig{Enabled: true, Size: 10},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT secret"},
		{"oidc without issuer", func(c *Config) { c.Auth.Mode = AuthModeOIDC }, "OIDC issuer"},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "basic" }, "invalid auth mode"},
		{"zero store timeout", func(c *Config) { c.Timeouts.Store = 0 }, "store timeout"},
		{"no audit workers", func(c *Config) { c.Audit.Workers = 0 }, "audit workers"},
		{"no dead-letter path", func(c *Config) { c.Audit.DeadLetterPath = "" }, "dead-letter path"},
		{"empty cache", func(c *Config) { c.Cache.Size = 0 }, "cache size"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "x"
		}, "OpenTelemetry endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
