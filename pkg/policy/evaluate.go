package policy

import (
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Evaluate applies the access policy to already loaded state.
// tenant and membership may be nil when the lookups found nothing.
func Evaluate(tenant *tenancy.Tenant, membership *tenancy.Membership, req Request) (Scope, error) {
	d := Decide(tenant, membership, req)
	if !d.Allowed {
		return Scope{}, tenancy.Forbidden(d.Reason)
	}
	return d.Scope, nil
}

// Decide is Evaluate returning a Decision instead of an error
func Decide(tenant *tenancy.Tenant, membership *tenancy.Membership, req Request) Decision {
	if req.UserID == "" || req.TenantID == "" {
		return deny(tenancy.ReasonNoMembership)
	}

	if tenant == nil || tenant.ID != req.TenantID ||
		!membership.IsActive() || membership.TenantID != req.TenantID || membership.UserID != req.UserID {
		return deny(tenancy.ReasonNoMembership)
	}

	if req.ResourceTenantID != "" && req.ResourceTenantID != req.TenantID {
		return deny(tenancy.ReasonCrossTenant)
	}

	if req.RequiredRole != "" && !req.RequiredRole.Valid() {
		// an unknown requirement can never be satisfied
		return deny(tenancy.ReasonInsufficientRole)
	}
	if !membership.Role.AtLeast(req.RequiredRole) {
		return deny(tenancy.ReasonInsufficientRole)
	}

	if tenant.Suspended() && req.Action.Mutating() {
		return deny(tenancy.ReasonTenantSuspended)
	}

	return Decision{
		Allowed: true,
		Scope: Scope{
			TenantID: req.TenantID,
			UserID:   req.UserID,
			Role:     membership.Role,
		},
	}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}
