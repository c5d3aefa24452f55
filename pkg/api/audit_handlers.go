package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// AuditHandlers serve the audit trail of the active tenant
type AuditHandlers struct {
	guard *guard
	store *audit.Store
}

// RegisterRoutes registers audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit", h.Search).Methods("GET")
	router.HandleFunc("/audit/export", h.Export).Methods("GET")
}

// Search returns one page of entries. Query parameters: actor, action
// (comma separated), entity_type, entity_id, since, until (RFC 3339),
// limit and offset.
func (h *AuditHandlers) Search(w http.ResponseWriter, r *http.Request) {
	scope, err := h.guard.authorize(r, policy.ActionExport, tenancy.RoleAdmin)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	filter, err := parseAuditFilter(r, scope.TenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries})
}

// Export streams every matching entry as json, ndjson or csv
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	scope, err := h.guard.authorize(r, policy.ActionExport, tenancy.RoleAdmin)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	switch format {
	case "":
		format = audit.ExportFormatJSON
	case audit.ExportFormatJSON, audit.ExportFormatNDJSON, audit.ExportFormatCSV:
	default:
		httputil.WriteError(w, tenancy.Invalidf("unsupported export format %q", format))
		return
	}

	filter, err := parseAuditFilter(r, scope.TenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.store.All(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-%s.%s", scope.TenantID, format))
	if err := audit.Export(w, entries, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit export interrupted")
	}
}

func parseAuditFilter(r *http.Request, tenantID string) (audit.SearchFilter, error) {
	q := r.URL.Query()
	filter := audit.SearchFilter{
		TenantID:    tenantID,
		ActorUserID: q.Get("actor"),
		EntityType:  q.Get("entity_type"),
		EntityID:    q.Get("entity_id"),
	}
	if actions := q.Get("action"); actions != "" {
		filter.Actions = strings.Split(actions, ",")
	}

	var err error
	if filter.StartTime, err = parseTimeParam(r, "since"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTimeParam(r, "until"); err != nil {
		return filter, err
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, tenancy.Invalidf("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}
