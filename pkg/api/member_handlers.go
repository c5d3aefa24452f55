package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

// MemberHandlers serve the membership of the active tenant. Role checks are
// enforced by the registry, inside the same transaction as the mutation.
type MemberHandlers struct {
	registry *tenants.Registry
}

// RegisterRoutes registers member routes
func (h *MemberHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/members", h.AddMember).Methods("POST")
	router.HandleFunc("/members/{user_id}", h.ChangeRole).Methods("PATCH")
	router.HandleFunc("/members/{user_id}", h.RemoveMember).Methods("DELETE")
}

// AddMemberRequest is the body of POST /v1/current/members
type AddMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=owner admin member"`
	// Invite creates a pending membership the user must accept
	Invite bool `json:"invite"`
}

// ChangeRoleRequest is the body of PATCH /v1/current/members/{user_id}
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=owner admin member"`
}

// ListMembers lists active and invited members
func (h *MemberHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.registry.ListMembers(r.Context(), currentTenant(r), currentUser(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

// AddMember adds or invites a user
func (h *MemberHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := tenancy.ParseRole(req.Role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	add := h.registry.AddMember
	if req.Invite {
		add = h.registry.InviteMember
	}
	m, err := add(r.Context(), currentTenant(r), req.UserID, role, currentUser(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, m)
}

// ChangeRole changes a member's role
func (h *MemberHandlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req ChangeRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := tenancy.ParseRole(req.Role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	m, err := h.registry.ChangeRole(r.Context(), currentTenant(r), httputil.PathString(r, "user_id"), role, currentUser(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

// RemoveMember removes a member. Members may remove themselves.
func (h *MemberHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.registry.RemoveMember(r.Context(), currentTenant(r), httputil.PathString(r, "user_id"), currentUser(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
