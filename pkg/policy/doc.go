// Package policy decides whether a user may perform an action inside a tenant.
//
// # Overview
//
// Evaluate is a pure function of a tenant, the caller's membership in it and a
// Request. Checks run in a fixed order and the first failure wins:
//
//  1. no active membership in the target tenant: forbidden (no membership)
//  2. resource tenant differs from the target tenant: forbidden (cross-tenant access)
//  3. role below the required role: forbidden (insufficient role)
//  4. tenant suspended and the action mutates: forbidden (tenant suspended)
//
// On allow it returns a Scope, the predicate the caller must apply to the
// storage operation. The evaluator never touches resource data itself.
//
// Evaluator wraps Evaluate with fresh membership lookups on every call. It
// deliberately bypasses any membership cache so a removed membership stops
// authorizing on the very next request.
//
//	scope, err := evaluator.Authorize(ctx, policy.Request{
//		UserID:           userID,
//		TenantID:         activeTenant,
//		ResourceTenantID: project.TenantID,
//		RequiredRole:     tenancy.RoleAdmin,
//		Action:           policy.ActionDelete,
//	})
//
// # Admin Surface
//
// ReassignResourceTenant moves a single resource between two tenants. It
// requires the acting user to own both tenants and always emits an audit entry.
package policy
