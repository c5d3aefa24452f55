package resources

import (
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

// Migrations returns the schema of the resource tables. Versions start at
// 100 so they sort after the tenant schema they reference.
func Migrations() []tenants.Migration {
	columns := map[string]string{
		Project:  "name TEXT NOT NULL, description TEXT, status TEXT NOT NULL DEFAULT 'active'",
		Task:     "project_id TEXT, title TEXT NOT NULL, description TEXT, status TEXT NOT NULL DEFAULT 'open', assignee_id TEXT, due_date DATE",
		Vendor:   "name TEXT NOT NULL, email TEXT, phone TEXT, category TEXT",
		Document: "project_id TEXT, name TEXT NOT NULL, url TEXT, content_type TEXT",
		Event:    "project_id TEXT, title TEXT NOT NULL, starts_at TIMESTAMPTZ NOT NULL, ends_at TIMESTAMPTZ, location TEXT",
		Message:  "project_id TEXT, subject TEXT, body TEXT NOT NULL",
	}

	var out []tenants.Migration
	for i, entityType := range Types() {
		e := entities[entityType]
		out = append(out, tenants.Migration{
			Version:     100 + i,
			Description: fmt.Sprintf("Create %s table with row level security", e.Table),
			SQL:         tableSQL(e.Table, columns[entityType]),
		})
	}
	return out
}

func tableSQL(table, columns string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			created_by TEXT NOT NULL,
			%[2]s,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_tenant ON %[1]s(tenant_id, created_at);

		ALTER TABLE %[1]s ENABLE ROW LEVEL SECURITY;
		ALTER TABLE %[1]s FORCE ROW LEVEL SECURITY;

		DROP POLICY IF EXISTS %[1]s_tenant_isolation ON %[1]s;
		CREATE POLICY %[1]s_tenant_isolation ON %[1]s
			USING (tenant_id = current_setting('app.current_tenant', true))
			WITH CHECK (
				tenant_id = current_setting('app.current_tenant', true)
				OR tenant_id = nullif(current_setting('app.reassign_target', true), '')
			);
	`, table, columns)
}
