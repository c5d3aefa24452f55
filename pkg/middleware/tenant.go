package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/tenantctx"
)

// TenantHeader carries the client's explicit tenant selection
const TenantHeader = "X-Tenant-ID"

// Resolver determines the active tenant of a user
type Resolver interface {
	Resolve(ctx context.Context, userID, requestedTenantID string) (tenantctx.Resolution, error)
}

// TenantContext resolves the active tenant of the authenticated user and
// attaches it to the request. Requests without a usable tenant are answered
// with 403, or 409 listing the candidates when the user must choose.
func TenantContext(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			res, err := resolver.Resolve(r.Context(), userID, r.Header.Get(TenantHeader))
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			annotate(r.Context(), "tenant_id", res.TenantID)
			next.ServeHTTP(w, r.WithContext(tenantctx.WithResolution(r.Context(), res)))
		})
	}
}
