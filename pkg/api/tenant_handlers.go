package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenantctx"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

// TenantHandlers serve the active tenant itself
type TenantHandlers struct {
	guard     *guard
	directory *tenants.Directory
}

// RegisterRoutes registers tenant routes
func (h *TenantHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.GetTenant).Methods("GET")
	router.HandleFunc("/context", h.GetContext).Methods("GET")
	router.HandleFunc("/settings", h.UpdateSettings).Methods("PATCH")
}

// GetTenant returns the active tenant
func (h *TenantHandlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	scope, err := h.guard.authorize(r, policy.ActionRead, "")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tenant, err := h.directory.GetTenant(r.Context(), scope.TenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// GetContext returns the resolved tenant context of the request
func (h *TenantHandlers) GetContext(w http.ResponseWriter, r *http.Request) {
	res, _ := tenantctx.FromContext(r.Context())
	httputil.WriteSuccess(w, res)
}

// UpdateSettings merges the body into the active tenant's settings.
// A null value removes the key.
func (h *TenantHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	tenant, err := h.directory.UpdateTenantSettings(r.Context(), currentTenant(r), patch, currentUser(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}
