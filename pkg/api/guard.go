package api

import (
	"net/http"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/resources"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
	"github.com/platinummonkey/tenantguard/pkg/tenantctx"
)

// guard turns the resolved tenant context of a request into a policy scope
type guard struct {
	evaluator *policy.Evaluator
}

func (g *guard) authorize(r *http.Request, action policy.Action, required tenancy.Role) (policy.Scope, error) {
	res, ok := tenantctx.FromContext(r.Context())
	if !ok || !res.Resolved() {
		return policy.Scope{}, tenancy.Forbidden(tenancy.ReasonNoMembership)
	}
	return g.evaluator.Authorize(r.Context(), res.Request(action, "", required))
}

// authorizeRecord authorizes action on one stored row. The row is read in the
// resolved tenant, then the evaluator is asked again with the tenant_id the
// row actually carries.
func (g *guard) authorizeRecord(r *http.Request, repo *resources.Repository, entityType, id string,
	action policy.Action, required tenancy.Role) (policy.Scope, resources.Record, error) {

	res, ok := tenantctx.FromContext(r.Context())
	if !ok || !res.Resolved() {
		return policy.Scope{}, nil, tenancy.Forbidden(tenancy.ReasonNoMembership)
	}

	readScope, err := g.evaluator.Authorize(r.Context(), res.Request(policy.ActionRead, "", ""))
	if err != nil {
		return policy.Scope{}, nil, err
	}
	record, err := repo.Get(r.Context(), readScope, entityType, id)
	if err != nil {
		return policy.Scope{}, nil, err
	}

	scope, err := g.evaluator.Authorize(r.Context(), res.Request(action, record.TenantID(), required))
	if err != nil {
		return policy.Scope{}, nil, err
	}
	return scope, record, nil
}

func currentUser(r *http.Request) string {
	return contextkeys.GetUserID(r.Context())
}

func currentTenant(r *http.Request) string {
	return tenantctx.TenantID(r.Context())
}
