package policy

import (
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Action is an operation on tenant data
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
	ActionExport Action = "export"
)

// Mutating reports whether the action changes tenant data.
// Unknown actions are treated as mutating.
func (a Action) Mutating() bool {
	switch a {
	case ActionRead, ActionExport:
		return false
	default:
		return true
	}
}

// Request describes an authorization question
type Request struct {
	UserID   string
	TenantID string
	// ResourceTenantID is the tenant that owns the target resource, if any
	ResourceTenantID string
	// RequiredRole is the minimum role. Empty means any active member.
	RequiredRole tenancy.Role
	Action       Action
}

// Scope is the result of an allowed request. Every data operation performed
// on behalf of the request must be restricted to Scope.TenantID.
type Scope struct {
	TenantID string
	UserID   string
	Role     tenancy.Role
}

// Predicate returns a SQL predicate restricting rows to the scope's tenant.
// Placeholder numbering starts at argPos.
func (s Scope) Predicate(argPos int) (string, []any) {
	return fmt.Sprintf("tenant_id = $%d", argPos), []any{s.TenantID}
}

// Filter returns a storage filter restricting rows to the scope's tenant
func (s Scope) Filter() map[string]any {
	return map[string]any{"tenant_id": s.TenantID}
}

// Check verifies that a resource owned by resourceTenantID is inside the scope
func (s Scope) Check(resourceTenantID string) error {
	if s.TenantID == "" || resourceTenantID != s.TenantID {
		return tenancy.Forbidden(tenancy.ReasonCrossTenant)
	}
	return nil
}

// Decision is the outcome of Evaluate, kept for audit and metrics
type Decision struct {
	Allowed bool
	Reason  string
	Scope   Scope
}
