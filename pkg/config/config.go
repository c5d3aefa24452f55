package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Audit         AuditConfig
	Auth          AuthConfig
	Billing       BillingConfig
	Observability ObservabilityConfig
	Timeouts      TimeoutsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory stores, which only suit local development.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds the shared membership cache connection. Empty URL disables it.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// CacheConfig holds membership list cache settings
type CacheConfig struct {
	Enabled  bool
	Size     int
	TTL      time.Duration
	RedisTTL time.Duration
}

// AuditConfig holds audit recorder, dead-letter and archive settings
type AuditConfig struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	WriteTimeout    time.Duration
	DeadLetterPath  string
	// ReplaySchedule is a cron spec for dead-letter replay. Empty disables it.
	ReplaySchedule string
	Archive        audit.S3Config
}

// Auth modes
const (
	AuthModeHS256 = "hs256"
	AuthModeOIDC  = "oidc"
)

// AuthConfig holds auth provider token verification settings
type AuthConfig struct {
	Mode      string
	JWTSecret string
	Issuer    string
	Audience  string
	// OIDCIssuerURL and OIDCClientID are used in oidc mode
	OIDCIssuerURL string
	OIDCClientID  string
}

// BillingConfig holds subscription provider settings
type BillingConfig struct {
	WebhookSecret string
	// WebhookTolerance bounds the age of a signed webhook timestamp
	WebhookTolerance time.Duration
	PlansFile        string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// TimeoutsConfig bounds calls to the data store
type TimeoutsConfig struct {
	Store   time.Duration
	Resolve time.Duration
}

// LoadConfig loads configuration from environment variables, seeded from a
// .env file in the working directory when one exists
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Auth:          loadAuthConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
		Timeouts:      loadTimeoutsConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGUARD_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGUARD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGUARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGUARD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGUARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGUARD_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTGUARD_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("TENANTGUARD_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("TENANTGUARD_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("TENANTGUARD_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TENANTGUARD_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("TENANTGUARD_DATABASE_AUTO_MIGRATE", false),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("TENANTGUARD_REDIS_URL", ""),
		Password:   getEnv("TENANTGUARD_REDIS_PASSWORD", ""),
		DB:         getEnvInt("TENANTGUARD_REDIS_DB", 0),
		PoolSize:   getEnvInt("TENANTGUARD_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("TENANTGUARD_REDIS_MAX_RETRIES", 1),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:  getEnvBool("TENANTGUARD_CACHE_ENABLED", true),
		Size:     getEnvInt("TENANTGUARD_CACHE_SIZE", 10000),
		TTL:      getEnvDuration("TENANTGUARD_CACHE_TTL", 30*time.Second),
		RedisTTL: getEnvDuration("TENANTGUARD_CACHE_REDIS_TTL", 5*time.Minute),
	}
}

func loadAuditConfig() AuditConfig {
	def := audit.DefaultRecorderConfig()
	return AuditConfig{
		Workers:         getEnvInt("TENANTGUARD_AUDIT_WORKERS", def.Workers),
		QueueSize:       getEnvInt("TENANTGUARD_AUDIT_QUEUE_SIZE", def.QueueSize),
		MaxAttempts:     getEnvInt("TENANTGUARD_AUDIT_MAX_ATTEMPTS", def.MaxAttempts),
		InitialInterval: getEnvDuration("TENANTGUARD_AUDIT_RETRY_INITIAL", def.InitialInterval),
		MaxInterval:     getEnvDuration("TENANTGUARD_AUDIT_RETRY_MAX", def.MaxInterval),
		WriteTimeout:    getEnvDuration("TENANTGUARD_AUDIT_WRITE_TIMEOUT", def.WriteTimeout),
		DeadLetterPath:  getEnv("TENANTGUARD_AUDIT_DEADLETTER_PATH", "/var/lib/tenantguard/audit-deadletter.log"),
		ReplaySchedule:  getEnv("TENANTGUARD_AUDIT_REPLAY_SCHEDULE", "@every 5m"),
		Archive: audit.S3Config{
			Bucket:       getEnv("TENANTGUARD_AUDIT_S3_BUCKET", ""),
			Region:       getEnv("TENANTGUARD_AUDIT_S3_REGION", "us-east-1"),
			Endpoint:     getEnv("TENANTGUARD_AUDIT_S3_ENDPOINT", ""),
			AccessKey:    getEnv("TENANTGUARD_AUDIT_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("TENANTGUARD_AUDIT_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("TENANTGUARD_AUDIT_S3_USE_PATH_STYLE", false),
			Prefix:       getEnv("TENANTGUARD_AUDIT_S3_PREFIX", "audit"),
		},
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:          strings.ToLower(getEnv("TENANTGUARD_AUTH_MODE", AuthModeHS256)),
		JWTSecret:     getEnv("TENANTGUARD_AUTH_JWT_SECRET", ""),
		Issuer:        getEnv("TENANTGUARD_AUTH_ISSUER", ""),
		Audience:      getEnv("TENANTGUARD_AUTH_AUDIENCE", ""),
		OIDCIssuerURL: getEnv("TENANTGUARD_AUTH_OIDC_ISSUER_URL", ""),
		OIDCClientID:  getEnv("TENANTGUARD_AUTH_OIDC_CLIENT_ID", ""),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		WebhookSecret:    getEnv("TENANTGUARD_BILLING_WEBHOOK_SECRET", ""),
		WebhookTolerance: getEnvDuration("TENANTGUARD_BILLING_WEBHOOK_TOLERANCE", 5*time.Minute),
		PlansFile:        getEnv("TENANTGUARD_PLANS_FILE", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("TENANTGUARD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTGUARD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTGUARD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTGUARD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTGUARD_OTEL_SERVICE_NAME", "tenantguard"),
		OTelServiceVersion: getEnv("TENANTGUARD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTGUARD_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTGUARD_OTEL_SAMPLE_RATIO", 1.0),
	}
}

func loadTimeoutsConfig() TimeoutsConfig {
	return TimeoutsConfig{
		Store:   getEnvDuration("TENANTGUARD_STORE_TIMEOUT", 3*time.Second),
		Resolve: getEnvDuration("TENANTGUARD_RESOLVE_TIMEOUT", 3*time.Second),
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

	switch c.Auth.Mode {
	case AuthModeHS256:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required for hs256 auth")
		}
	case AuthModeOIDC:
		if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer URL and client id are required for oidc auth")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be hs256 or oidc)", c.Auth.Mode)
	}

	if c.Timeouts.Store <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	if c.Timeouts.Resolve <= 0 {
		return fmt.Errorf("resolve timeout must be positive")
	}
	if c.Audit.Workers <= 0 || c.Audit.QueueSize <= 0 || c.Audit.MaxAttempts <= 0 {
		return fmt.Errorf("audit workers, queue size and max attempts must be positive")
	}
	if c.Audit.DeadLetterPath == "" {
		return fmt.Errorf("audit dead-letter path is required")
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel returns the tracing settings in the form observability.InitOTel takes
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// Recorder returns the audit recorder settings
func (c AuditConfig) Recorder() audit.RecorderConfig {
	return audit.RecorderConfig{
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		WriteTimeout:    c.WriteTimeout,
	}
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
