// Package app wires configuration into the running tenant isolation core.
// Both the server and the admin CLI build their services through it so that
// every entry point uses the same stores, recorder and policy.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/tenantguard/pkg/api"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/billing"
	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/resources"
	"github.com/platinummonkey/tenantguard/pkg/tenantctx"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

// auditBackend persists and searches audit entries
type auditBackend interface {
	audit.Sink
	audit.Reader
}

// App holds the wired services
type App struct {
	Config *config.Config
	Logger *observability.Logger

	// DB is nil when running on the in-memory stores
	DB    *sqlx.DB
	Redis *redis.Client

	PromRegistry *prometheus.Registry
	Metrics      *observability.Metrics
	Plans        *config.PlanCatalog

	AuditSink   auditBackend
	DeadLetters *audit.DeadLetterLog
	Recorder    *audit.AsyncRecorder
	AuditStore  *audit.Store

	TenantStore   tenants.Store
	Cache         *tenants.MembershipCache
	Directory     *tenants.Directory
	Memberships   *tenants.Registry
	Evaluator     *policy.Evaluator
	Resolver      *tenantctx.Resolver
	ResourceStore resources.Store
	Resources     *resources.Repository
	Admin         *policy.Admin
}

// New connects to the configured backends and builds every service
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	a.PromRegistry = prometheus.NewRegistry()
	a.PromRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = observability.NewMetrics(a.PromRegistry)

	plans, err := config.LoadPlanCatalog(cfg.Billing.PlansFile)
	if err != nil {
		return nil, err
	}
	a.Plans = plans

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		a.closeBackends()
		return nil, err
	}
	if err := a.buildAudit(); err != nil {
		a.closeBackends()
		return nil, err
	}
	a.buildServices()
	return a, nil
}

func (a *App) openDatabase(ctx context.Context) error {
	dbCfg := a.Config.Database
	if dbCfg.URL == "" {
		a.Logger.Warn("No database configured, using in-memory stores")
		a.TenantStore = tenants.NewMemoryStore()
		a.ResourceStore = resources.NewMemoryStore()
		return nil
	}

	db, err := sqlx.Open("postgres", dbCfg.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	db.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, a.Config.Timeouts.Store)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	a.DB = db
	a.TenantStore = tenants.NewPostgresStore(db.DB)
	a.ResourceStore = resources.NewPostgresStore(db)
	a.Logger.Info("Connected to PostgreSQL")
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	rc := a.Config.Redis
	if rc.URL == "" {
		return nil
	}
	opts, err := redis.ParseURL(rc.URL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	if rc.Password != "" {
		opts.Password = rc.Password
	}
	if rc.DB != 0 {
		opts.DB = rc.DB
	}
	if rc.PoolSize > 0 {
		opts.PoolSize = rc.PoolSize
	}
	opts.MaxRetries = rc.MaxRetries

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Redis = client
	a.Logger.Info("Connected to Redis")
	return nil
}

func (a *App) buildAudit() error {
	if a.DB != nil {
		sink, err := audit.NewSQLSink(a.DB.DB)
		if err != nil {
			return err
		}
		a.AuditSink = sink
	} else {
		a.AuditSink = audit.NewMemorySink()
	}

	if path := a.Config.Audit.DeadLetterPath; path != "" {
		dl, err := audit.OpenDeadLetterLog(path)
		if err != nil {
			return err
		}
		a.DeadLetters = dl
	}

	recCfg := a.Config.Audit.Recorder()
	recCfg.Metrics = a.Metrics
	recCfg.Logger = a.Logger
	a.Recorder = audit.NewAsyncRecorder(a.AuditSink, a.DeadLetters, recCfg)
	a.AuditStore = audit.NewStore(a.AuditSink)
	return nil
}

func (a *App) buildServices() {
	cfg := a.Config
	if cfg.Cache.Enabled {
		cacheCfg := tenants.DefaultCacheConfig()
		if cfg.Cache.Size > 0 {
			cacheCfg.Size = cfg.Cache.Size
		}
		if cfg.Cache.TTL > 0 {
			cacheCfg.TTL = cfg.Cache.TTL
		}
		if cfg.Cache.RedisTTL > 0 {
			cacheCfg.RedisTTL = cfg.Cache.RedisTTL
		}
		cacheCfg.Redis = a.Redis
		cacheCfg.Metrics = a.Metrics
		cacheCfg.Logger = a.Logger
		a.Cache = tenants.NewMembershipCache(a.TenantStore.ListMembershipsByUser, cacheCfg)
	}

	svcCfg := tenants.Config{
		StoreTimeout: cfg.Timeouts.Store,
		Recorder:     a.Recorder,
		Cache:        a.Cache,
		Plans:        a.Plans,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
	}
	a.Directory = tenants.NewDirectory(a.TenantStore, svcCfg)
	a.Memberships = tenants.NewRegistry(a.TenantStore, svcCfg)

	a.Evaluator = policy.NewEvaluator(a.TenantStore, policy.EvaluatorConfig{
		StoreTimeout: cfg.Timeouts.Store,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
	})
	a.Resolver = tenantctx.NewResolver(a.Memberships, tenantctx.Config{
		Timeout: cfg.Timeouts.Resolve,
		Metrics: a.Metrics,
		Logger:  a.Logger,
	})
	a.Resources = resources.NewRepository(a.ResourceStore, resources.RepositoryConfig{
		StoreTimeout: cfg.Timeouts.Store,
		Recorder:     a.Recorder,
		Limits:       a.Directory,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
	})
	a.Admin = policy.NewAdmin(a.Evaluator, a.ResourceStore, a.Recorder)
}

// Migrate applies the tenant, audit and resource schema
func (a *App) Migrate(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	migrations := append(tenants.Migrations(), resources.Migrations()...)
	return tenants.RunMigrations(ctx, a.DB.DB, a.Logger, migrations)
}

// Verifier builds the token verifier for the configured auth mode
func (a *App) Verifier(ctx context.Context) (middleware.TokenVerifier, error) {
	auth := a.Config.Auth
	switch auth.Mode {
	case config.AuthModeOIDC:
		return middleware.NewOIDCVerifier(ctx, auth.OIDCIssuerURL, auth.OIDCClientID)
	default:
		return middleware.NewHS256Verifier(auth.JWTSecret, auth.Issuer, auth.Audience), nil
	}
}

// Handler builds the public HTTP handler
func (a *App) Handler(verifier middleware.TokenVerifier) http.Handler {
	deps := api.Dependencies{
		Directory: a.Directory,
		Registry:  a.Memberships,
		Resolver:  a.Resolver,
		Evaluator: a.Evaluator,
		Admin:     a.Admin,
		Resources: a.Resources,
		Audit:     a.AuditStore,
		Verifier:  verifier,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
	}
	if secret := a.Config.Billing.WebhookSecret; secret != "" {
		deps.Billing = billing.NewWebhookHandler(
			billing.NewProcessor(a.Directory, a.Logger),
			billing.WebhookConfig{Secret: secret, Tolerance: a.Config.Billing.WebhookTolerance},
		)
	}
	if a.Redis != nil {
		deps.RateLimiter = middleware.NewRateLimiter(a.Redis, middleware.DefaultRateLimitConfig())
	}
	return api.NewServer(deps)
}

// HealthChecker builds readiness checks over the connected backends
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	var db *sql.DB
	if a.DB != nil {
		db = a.DB.DB
	}
	health := observability.NewHealthChecker(db, a.Redis, version)
	if a.DeadLetters != nil {
		health.AddCheck("audit_dead_letters", false, func(ctx context.Context) observability.DependencyStatus {
			pending, err := a.DeadLetters.Pending()
			switch {
			case err != nil:
				return observability.DependencyStatus{Status: observability.StatusUnhealthy, Message: err.Error()}
			case pending > 0:
				return observability.DependencyStatus{Status: observability.StatusDegraded, Message: fmt.Sprintf("%d entries pending replay", pending)}
			default:
				return observability.DependencyStatus{Status: observability.StatusHealthy}
			}
		})
	}
	return health
}

// ReplayDeadLetters writes dead-lettered audit entries back to the sink
func (a *App) ReplayDeadLetters(ctx context.Context) (audit.ReplayResult, error) {
	if a.DeadLetters == nil {
		return audit.ReplayResult{}, nil
	}
	return a.DeadLetters.Replay(ctx, a.AuditSink)
}

// Close drains the recorder and closes the backends
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Recorder != nil {
		err = a.Recorder.Close(ctx)
	}
	if a.DeadLetters != nil {
		if cerr := a.DeadLetters.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	a.closeBackends()
	return err
}

func (a *App) closeBackends() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
