package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/resources"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// ResourceHandlers serve tenant-owned business rows
type ResourceHandlers struct {
	guard *guard
	repo  *resources.Repository
}

// RegisterRoutes registers resource routes
func (h *ResourceHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/resources/{type}", h.List).Methods("GET")
	router.HandleFunc("/resources/{type}", h.Create).Methods("POST")
	router.HandleFunc("/resources/{type}/{id}", h.Get).Methods("GET")
	router.HandleFunc("/resources/{type}/{id}", h.Update).Methods("PATCH")
	router.HandleFunc("/resources/{type}/{id}", h.Delete).Methods("DELETE")
}

// List returns the rows matching the query parameters, e.g. ?status=open
func (h *ResourceHandlers) List(w http.ResponseWriter, r *http.Request) {
	scope, err := h.guard.authorize(r, policy.ActionRead, "")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	filter := resources.Filter{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			filter[k] = v[0]
		}
	}

	records, err := h.repo.Find(r.Context(), scope, httputil.PathString(r, "type"), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []resources.Record{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"items": records})
}

// Get returns one row
func (h *ResourceHandlers) Get(w http.ResponseWriter, r *http.Request) {
	_, record, err := h.guard.authorizeRecord(r, h.repo, httputil.PathString(r, "type"), httputil.PathString(r, "id"),
		policy.ActionRead, "")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

// Create inserts a row. tenant_id and created_by are taken from the request
// context, never from the body.
func (h *ResourceHandlers) Create(w http.ResponseWriter, r *http.Request) {
	scope, err := h.guard.authorize(r, policy.ActionCreate, tenancy.RoleMember)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var fields map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &fields) {
		return
	}

	record, err := h.repo.Create(r.Context(), scope, httputil.PathString(r, "type"), resources.Record(fields))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, record)
}

// Update patches a row
func (h *ResourceHandlers) Update(w http.ResponseWriter, r *http.Request) {
	entityType, id := httputil.PathString(r, "type"), httputil.PathString(r, "id")
	scope, _, err := h.guard.authorizeRecord(r, h.repo, entityType, id, policy.ActionUpdate, tenancy.RoleMember)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var patch map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	record, err := h.repo.Update(r.Context(), scope, entityType, id, resources.Record(patch))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

// Delete removes a row. Requires admin.
func (h *ResourceHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	entityType, id := httputil.PathString(r, "type"), httputil.PathString(r, "id")
	scope, _, err := h.guard.authorizeRecord(r, h.repo, entityType, id, policy.ActionDelete, tenancy.RoleAdmin)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.repo.Delete(r.Context(), scope, entityType, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
