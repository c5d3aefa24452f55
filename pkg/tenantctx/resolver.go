package tenantctx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

var tracer = observability.Tracer("tenantctx")

// State is the outcome of a resolution
type State string

const (
	StateUnresolved State = "unresolved"
	StateResolved   State = "resolved"
	StateAmbiguous  State = "ambiguous"
)

// Resolution is the tenant context of one request
type Resolution struct {
	State    State        `json:"state"`
	UserID   string       `json:"user_id"`
	TenantID string       `json:"tenant_id,omitempty"`
	Role     tenancy.Role `json:"role,omitempty"`
	// Explicit is set when the tenant came from a validated override
	Explicit bool `json:"explicit,omitempty"`
	// Candidates lists the selectable tenants when State is StateAmbiguous
	Candidates []string `json:"candidates,omitempty"`
}

// Resolved reports whether the resolution names an active tenant
func (r Resolution) Resolved() bool {
	return r.State == StateResolved && r.TenantID != ""
}

// Request builds an authorization request in the resolved tenant
func (r Resolution) Request(action policy.Action, resourceTenantID string, required tenancy.Role) policy.Request {
	return policy.Request{
		UserID:           r.UserID,
		TenantID:         r.TenantID,
		ResourceTenantID: resourceTenantID,
		RequiredRole:     required,
		Action:           action,
	}
}

// MembershipLister returns a user's active memberships, default first and
// then in join order
type MembershipLister interface {
	ActiveMemberships(ctx context.Context, userID string) ([]*tenancy.Membership, error)
}

// Config configures a Resolver
type Config struct {
	// Timeout bounds the membership lookup. Zero means 3s.
	Timeout time.Duration
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Resolver determines the active tenant of a request
type Resolver struct {
	memberships MembershipLister
	timeout     time.Duration
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewResolver creates a resolver reading memberships from lister
func NewResolver(lister MembershipLister, cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.GetLogger(context.Background())
	}
	return &Resolver{
		memberships: lister,
		timeout:     cfg.Timeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Resolve determines the active tenant of userID. requestedTenantID is an
// optional client supplied override.
//
// Errors match tenancy.ErrForbidden when the user has no usable membership
// or the override is not one of them, and tenancy.ErrAmbiguousTenant when
// the user must pick a tenant. The returned Resolution carries the state in
// every case.
func (r *Resolver) Resolve(ctx context.Context, userID, requestedTenantID string) (res Resolution, err error) {
	ctx, span := tracer.Start(ctx, "tenantctx.Resolve")
	defer func() {
		span.SetAttributes(attribute.String("state", string(res.State)))
		observability.EndSpan(span, err)
		state := string(res.State)
		if err != nil && !tenancy.IsDomain(err) {
			state = "error"
		}
		r.metrics.ObserveResolution(state)
	}()

	res = Resolution{State: StateUnresolved, UserID: userID}
	if userID == "" {
		return res, tenancy.Forbidden(tenancy.ReasonNotAuthenticated)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	memberships, err := r.memberships.ActiveMemberships(lookupCtx, userID)
	if err != nil {
		if !tenancy.IsDomain(err) {
			err = tenancy.StorageError("load memberships", err)
		}
		return res, err
	}

	active := memberships[:0:0]
	for _, m := range memberships {
		if m.IsActive() && m.UserID == userID {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return res, tenancy.Forbidden(tenancy.ReasonNoMembership)
	}

	if requestedTenantID != "" {
		for _, m := range active {
			if m.TenantID == requestedTenantID {
				return r.resolved(res, m, true), nil
			}
		}
		r.logger.WithFields(map[string]interface{}{
			"user_id":             userID,
			"requested_tenant_id": requestedTenantID,
		}).Warn("tenant override rejected")
		return res, tenancy.Forbidden(tenancy.ReasonNoMembership)
	}

	if len(active) == 1 {
		return r.resolved(res, active[0], false), nil
	}

	for _, m := range active {
		if m.IsDefault {
			return r.resolved(res, m, false), nil
		}
	}

	res.State = StateAmbiguous
	res.Candidates = make([]string, len(active))
	for i, m := range active {
		res.Candidates[i] = m.TenantID
	}
	return res, &tenancy.AmbiguousTenantError{Candidates: res.Candidates}
}

func (r *Resolver) resolved(res Resolution, m *tenancy.Membership, explicit bool) Resolution {
	res.State = StateResolved
	res.TenantID = m.TenantID
	res.Role = m.Role
	res.Explicit = explicit
	return res
}

// WithResolution attaches a resolution to the request context
func WithResolution(ctx context.Context, res Resolution) context.Context {
	ctx = contextkeys.WithResolution(ctx, res)
	if res.Resolved() {
		ctx = contextkeys.WithTenantID(ctx, res.TenantID)
	}
	return ctx
}

// FromContext returns the resolution attached to ctx
func FromContext(ctx context.Context) (Resolution, bool) {
	res, ok := ctx.Value(contextkeys.ResolutionKey).(Resolution)
	return res, ok
}

// TenantID returns the resolved tenant of ctx, or "" when there is none
func TenantID(ctx context.Context) string {
	res, ok := FromContext(ctx)
	if !ok || !res.Resolved() {
		return ""
	}
	return res.TenantID
}
