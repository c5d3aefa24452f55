package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/resources"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

// RouteRegistrar is implemented by handler groups
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Dependencies are the services behind the HTTP surface
type Dependencies struct {
	Directory *tenants.Directory
	Registry  *tenants.Registry
	Resolver  middleware.Resolver
	Evaluator *policy.Evaluator
	Admin     *policy.Admin
	Resources *resources.Repository
	Audit     *audit.Store
	Verifier  middleware.TokenVerifier

	// Billing handles the subscription webhook. Nil disables the route.
	Billing http.Handler
	// RateLimiter throttles authenticated requests per user. Nil disables it.
	RateLimiter *middleware.RateLimiter

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Server is the HTTP entry point
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Dependencies
}

// NewServer builds the router
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()
	s.handler = otelhttp.NewHandler(s.router, "tenantguard")
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(middleware.RequestID(s.deps.Logger))
	s.router.Use(middleware.Logging)
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})

	if s.deps.Billing != nil {
		s.router.Handle("/v1/billing/webhook", s.deps.Billing).Methods("POST")
	}

	authed := s.router.PathPrefix("/v1").Subrouter()
	authed.Use(middleware.Authenticate(s.deps.Verifier))
	if s.deps.RateLimiter != nil {
		authed.Use(middleware.RateLimit(s.deps.RateLimiter))
	}

	// Registered before the /current prefix so that the user-level routes
	// never pass through tenant resolution.
	account := &AccountHandlers{directory: s.deps.Directory, registry: s.deps.Registry}
	account.RegisterRoutes(authed)
	(&AdminHandlers{admin: s.deps.Admin}).RegisterRoutes(authed)

	current := authed.PathPrefix("/current").Subrouter()
	current.Use(middleware.TenantContext(s.deps.Resolver))

	guard := &guard{evaluator: s.deps.Evaluator}
	registrars := []RouteRegistrar{
		&TenantHandlers{guard: guard, directory: s.deps.Directory},
		&MemberHandlers{registry: s.deps.Registry},
		&ResourceHandlers{guard: guard, repo: s.deps.Resources},
		&AuditHandlers{guard: guard, store: s.deps.Audit},
	}
	for _, r := range registrars {
		r.RegisterRoutes(current)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}
