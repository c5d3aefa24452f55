// Package api exposes the tenant isolation core over HTTP.
//
// Routes are grouped by how much request context they need:
//
//   - /v1/billing/webhook is unauthenticated and verified by its signature
//   - /v1/tenants, /v1/me/... and /v1/admin/... require a bearer token
//   - /v1/current/... additionally resolve the active tenant of the caller,
//     optionally selected with the X-Tenant-ID header
//
// Every tenant-scoped handler asks the policy evaluator for a scope before
// touching data, and passes that scope to the storage layer. Error responses
// never distinguish a missing entity from one that belongs to another tenant.
package api
