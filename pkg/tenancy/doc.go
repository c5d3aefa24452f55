// Package tenancy defines the shared multi-tenant data model and the error
// taxonomy used by every tenant-isolation component.
//
// # Overview
//
// A Tenant is an isolated customer organization and the unit of data
// partitioning. A Membership is the only bridge that lets a user act inside a
// tenant's boundary; it carries a role (owner, admin or member), a status and a
// default-tenant flag.
//
// Roles are strictly ordered:
//
//	owner > admin > member
//
// # Errors
//
// Every component reports failures through the sentinels in this package so
// callers can branch with errors.Is:
//
//	if errors.Is(err, tenancy.ErrForbidden) {
//	    // render a generic "not authorized"
//	}
//
// Typed errors (ForbiddenError, CapacityExceededError, NotFoundError,
// AmbiguousTenantError) carry detail for logs while PublicMessage returns text
// that is safe to show to end users.
package tenancy
