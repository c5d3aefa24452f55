// Package tenantctx resolves the active tenant of an authenticated request.
//
// Resolution has three outcomes. A user without memberships is Unresolved and
// the request fails closed. A user with one membership, or with a default
// membership, is Resolved to that tenant. Anyone else is Ambiguous until the
// caller names a tenant explicitly. An explicit tenant id is only trusted
// after it is found among the user's active memberships.
//
// The Resolution is attached to the request context and lives only as long
// as the request:
//
//	res, err := resolver.Resolve(ctx, userID, r.Header.Get("X-Tenant-ID"))
//	if err != nil {
//		// ErrForbidden or ErrAmbiguousTenant
//	}
//	ctx = tenantctx.WithResolution(ctx, res)
package tenantctx
