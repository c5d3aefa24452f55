package audit

import (
	"time"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Actions recorded by the tenant isolation core
const (
	ActionTenantCreate         = "tenant.create"
	ActionTenantSettingsUpdate = "tenant.settings_update"
	ActionSubscriptionUpdate   = "tenant.subscription_update"
	ActionTenantSuspend        = "tenant.suspend"
	ActionTenantReactivate     = "tenant.reactivate"

	ActionMembershipAdd        = "membership.add"
	ActionMembershipInvite     = "membership.invite"
	ActionMembershipAccept     = "membership.accept"
	ActionMembershipRemove     = "membership.remove"
	ActionMembershipRoleChange = "membership.role_change"
	ActionMembershipDefaultSet = "membership.default_set"

	ActionResourceCreate = "resource.create"
	ActionResourceUpdate = "resource.update"
	ActionResourceDelete = "resource.delete"
)

// Entry is an immutable record of a mutating action
type Entry struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	ActorUserID string         `json:"actor_user_id"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy so that callers cannot mutate a recorded entry
func (e Entry) Clone() Entry {
	e.Metadata = tenancy.CloneMap(e.Metadata)
	return e
}

// Validate checks the fields every entry must carry
func (e Entry) Validate() error {
	switch {
	case e.TenantID == "":
		return tenancy.Invalidf("audit entry requires tenant_id")
	case e.Action == "":
		return tenancy.Invalidf("audit entry requires action")
	case e.EntityType == "":
		return tenancy.Invalidf("audit entry requires entity_type")
	}
	return nil
}

// SearchFilter selects entries of a single tenant
type SearchFilter struct {
	TenantID    string
	ActorUserID string
	Actions     []string
	EntityType  string
	EntityID    string
	StartTime   *time.Time
	EndTime     *time.Time

	Limit  int
	Offset int
}

// ExportFormat represents the export format
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// ContentType returns the MIME type for the export format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

func (f *SearchFilter) normalize() error {
	if f.TenantID == "" {
		return tenancy.Invalidf("audit search requires tenant_id")
	}
	if f.Limit <= 0 {
		f.Limit = defaultSearchLimit
	}
	if f.Limit > maxSearchLimit {
		f.Limit = maxSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return nil
}

func (f SearchFilter) matches(e Entry) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	if f.ActorUserID != "" && e.ActorUserID != f.ActorUserID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if a == e.Action {
				return true
			}
		}
		return false
	}
	return true
}
