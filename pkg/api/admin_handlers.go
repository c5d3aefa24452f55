package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/policy"
)

// AdminHandlers serve governed repair operations spanning two tenants
type AdminHandlers struct {
	admin *policy.Admin
}

// RegisterRoutes registers admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/reassign", h.Reassign).Methods("POST")
}

// ReassignRequest is the body of POST /v1/admin/reassign
type ReassignRequest struct {
	EntityType string `json:"entity_type" validate:"required"`
	ResourceID string `json:"resource_id" validate:"required"`
	FromTenant string `json:"from_tenant" validate:"required"`
	ToTenant   string `json:"to_tenant" validate:"required,nefield=FromTenant"`
	Reason     string `json:"reason" validate:"required,max=500"`
}

// Reassign moves a resource between two tenants the caller owns
func (h *AdminHandlers) Reassign(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.admin.ReassignResourceTenant(r.Context(), policy.ReassignRequest{
		EntityType:  req.EntityType,
		ResourceID:  req.ResourceID,
		FromTenant:  req.FromTenant,
		ToTenant:    req.ToTenant,
		ActingAdmin: currentUser(r),
		Reason:      req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
