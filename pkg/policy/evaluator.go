package policy

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

var tracer = observability.Tracer("policy")

// Source loads the authoritative tenant and membership state.
// Implementations must return errors matching tenancy.ErrNotFound for absent rows.
type Source interface {
	GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
	GetMembership(ctx context.Context, tenantID, userID string) (*tenancy.Membership, error)
}

// EvaluatorConfig configures an Evaluator
type EvaluatorConfig struct {
	// StoreTimeout bounds each lookup. Zero uses DefaultStoreTimeout.
	StoreTimeout time.Duration
	Metrics      *observability.Metrics
	Logger       *observability.Logger
}

// DefaultStoreTimeout bounds membership and tenant lookups
const DefaultStoreTimeout = 3 * time.Second

// Evaluator authorizes requests against fresh membership state
type Evaluator struct {
	source  Source
	timeout time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewEvaluator creates an evaluator reading from source
func NewEvaluator(source Source, cfg EvaluatorConfig) *Evaluator {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &Evaluator{
		source:  source,
		timeout: cfg.StoreTimeout,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Authorize loads the caller's membership and the tenant and evaluates req.
// Denials return an error matching tenancy.ErrForbidden; lookup failures are
// returned as is and are never downgraded to an allow.
func (e *Evaluator) Authorize(ctx context.Context, req Request) (scope Scope, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "policy.Authorize")
	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("action", string(req.Action)),
		attribute.String("required_role", string(req.RequiredRole)),
	)
	defer func() { observability.EndSpan(span, err) }()

	decision, err := e.decide(ctx, req)
	if err != nil {
		e.logFor(ctx).WithError(err).Error("authorization lookup failed")
		return Scope{}, err
	}

	e.metrics.ObserveDecision(decision.Allowed, decision.Reason, time.Since(start))
	span.SetAttributes(attribute.Bool("allowed", decision.Allowed))

	if !decision.Allowed {
		e.logFor(ctx).WithFields(map[string]interface{}{
			"tenant_id":          req.TenantID,
			"resource_tenant_id": req.ResourceTenantID,
			"action":             string(req.Action),
			"reason":             decision.Reason,
		}).Warn("authorization denied")
		return Scope{}, tenancy.Forbidden(decision.Reason)
	}

	return decision.Scope, nil
}

func (e *Evaluator) decide(ctx context.Context, req Request) (Decision, error) {
	if req.UserID == "" || req.TenantID == "" {
		return deny(tenancy.ReasonNoMembership), nil
	}

	membership, err := e.membership(ctx, req.TenantID, req.UserID)
	if err != nil {
		return Decision{}, err
	}
	if !membership.IsActive() {
		return deny(tenancy.ReasonNoMembership), nil
	}

	tenant, err := e.tenant(ctx, req.TenantID)
	if err != nil {
		return Decision{}, err
	}

	return Decide(tenant, membership, req), nil
}

// ActiveMembership returns the user's active membership in tenantID, or nil
func (e *Evaluator) ActiveMembership(ctx context.Context, tenantID, userID string) (*tenancy.Membership, error) {
	m, err := e.membership(ctx, tenantID, userID)
	if err != nil || !m.IsActive() {
		return nil, err
	}
	return m, nil
}

func (e *Evaluator) membership(ctx context.Context, tenantID, userID string) (*tenancy.Membership, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	m, err := e.source.GetMembership(ctx, tenantID, userID)
	if errors.Is(err, tenancy.ErrNotFound) {
		e.metrics.ObserveStorage("authz_get_membership", time.Since(start), false)
		return nil, nil
	}
	err = tenancy.StorageError("load membership", err)
	e.metrics.ObserveStorage("authz_get_membership", time.Since(start), tenancy.IsStorageTimeout(err))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Evaluator) tenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	t, err := e.source.GetTenant(ctx, tenantID)
	if errors.Is(err, tenancy.ErrNotFound) {
		e.metrics.ObserveStorage("authz_get_tenant", time.Since(start), false)
		return nil, nil
	}
	err = tenancy.StorageError("load tenant", err)
	e.metrics.ObserveStorage("authz_get_tenant", time.Since(start), tenancy.IsStorageTimeout(err))
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Evaluator) logFor(ctx context.Context) *observability.Logger {
	if e.logger != nil {
		return e.logger
	}
	return observability.FromContext(ctx)
}
