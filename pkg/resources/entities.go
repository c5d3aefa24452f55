package resources

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Entity types
const (
	Project  = "project"
	Task     = "task"
	Vendor   = "vendor"
	Document = "document"
	Event    = "event"
	Message  = "message"
)

// Columns managed by the storage layer
const (
	ColumnID        = "id"
	ColumnTenantID  = "tenant_id"
	ColumnCreatedBy = "created_by"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// Entity describes one tenant scoped table
type Entity struct {
	Type  string
	Table string
	// Fields are the columns writable through insert and update
	Fields []string
	// Required fields must be present on insert
	Required []string
}

var entities = map[string]Entity{
	Project: {
		Type: Project, Table: "projects",
		Fields:   []string{"name", "description", "status"},
		Required: []string{"name"},
	},
	Task: {
		Type: Task, Table: "tasks",
		Fields:   []string{"project_id", "title", "description", "status", "assignee_id", "due_date"},
		Required: []string{"title"},
	},
	Vendor: {
		Type: Vendor, Table: "vendors",
		Fields:   []string{"name", "email", "phone", "category"},
		Required: []string{"name"},
	},
	Document: {
		Type: Document, Table: "documents",
		Fields:   []string{"project_id", "name", "url", "content_type"},
		Required: []string{"name"},
	},
	Event: {
		Type: Event, Table: "events",
		Fields:   []string{"project_id", "title", "starts_at", "ends_at", "location"},
		Required: []string{"title", "starts_at"},
	},
	Message: {
		Type: Message, Table: "messages",
		Fields:   []string{"project_id", "subject", "body"},
		Required: []string{"body"},
	},
}

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Lookup returns the entity for a type name
func Lookup(entityType string) (Entity, error) {
	e, ok := entities[entityType]
	if !ok {
		return Entity{}, tenancy.Invalidf("unknown entity type %q", entityType)
	}
	return e, nil
}

// Types returns every entity type, sorted
func Types() []string {
	out := make([]string, 0, len(entities))
	for t := range entities {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Tables returns every resource table name, sorted
func Tables() []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Table)
	}
	sort.Strings(out)
	return out
}

func (e Entity) writable(column string) bool {
	for _, f := range e.Fields {
		if f == column {
			return true
		}
	}
	return false
}

// filterable reports whether column may appear in a find filter
func (e Entity) filterable(column string) bool {
	switch column {
	case ColumnID, ColumnTenantID, ColumnCreatedBy:
		return true
	}
	return e.writable(column)
}

func (e Entity) checkColumns(fields map[string]any, allowed func(string) bool) error {
	for column := range fields {
		if !columnName.MatchString(column) || !allowed(column) {
			return tenancy.Invalidf("%s has no field %q", e.Type, column)
		}
	}
	return nil
}

func (e Entity) checkRequired(record Record) error {
	for _, f := range e.Required {
		v, ok := record[f]
		if !ok || v == nil || v == "" {
			return tenancy.Invalidf("%s requires %s", e.Type, f)
		}
	}
	return nil
}

// Record is one row of a resource table
type Record map[string]any

// Filter selects rows by equality on each key
type Filter map[string]any

// ID returns the record id
func (r Record) ID() string {
	return r.str(ColumnID)
}

// TenantID returns the owning tenant
func (r Record) TenantID() string {
	return r.str(ColumnTenantID)
}

// CreatedBy returns the creating user
func (r Record) CreatedBy() string {
	return r.str(ColumnCreatedBy)
}

func (r Record) str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	return Record(tenancy.CloneMap(r))
}
