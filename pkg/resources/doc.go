// Package resources is the tenant scoped storage layer for application data:
// projects, tasks, vendors, documents, calendar events and messages.
//
// Every Store call names the tenant it operates in. Stores reject calls
// without a tenant id, and PostgresStore additionally sets
// app.current_tenant for the row level security policies installed by
// Migrations, so a query that forgets its tenant predicate still cannot see
// another tenant's rows.
//
// Repository sits above the Store and works on a policy.Scope returned by
// the evaluator. It injects the scope's tenant into filters and new records,
// stamps created_by with the acting user, refuses to change tenant_id on
// update, and records an audit entry for every mutation.
package resources
