package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

// AccountHandlers serve the routes of a signed-in user that do not depend on
// an active tenant
type AccountHandlers struct {
	directory *tenants.Directory
	registry  *tenants.Registry
}

// RegisterRoutes registers account routes
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants", h.CreateTenant).Methods("POST")
	router.HandleFunc("/me/tenants", h.ListTenants).Methods("GET")
	router.HandleFunc("/me/default-tenant", h.SetDefaultTenant).Methods("PUT")
	router.HandleFunc("/invitations/{tenant_id}/accept", h.AcceptInvitation).Methods("POST")
}

// CreateTenantRequest is the body of POST /v1/tenants
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// CreateTenant creates a tenant owned by the caller
func (h *AccountHandlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, err := h.directory.CreateTenant(r.Context(), req.Name, currentUser(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, tenant)
}

// ListTenants lists the tenants the caller is an active member of
func (h *AccountHandlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListTenantsForUser(r.Context(), currentUser(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"tenants": list})
}

// DefaultTenantRequest is the body of PUT /v1/me/default-tenant
type DefaultTenantRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
}

// SetDefaultTenant changes the caller's default tenant
func (h *AccountHandlers) SetDefaultTenant(w http.ResponseWriter, r *http.Request) {
	var req DefaultTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.registry.SetDefaultTenant(r.Context(), currentUser(r), req.TenantID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AcceptInvitation activates the caller's pending membership
func (h *AccountHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.AcceptInvitation(r.Context(), httputil.PathString(r, "tenant_id"), currentUser(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, m)
}
