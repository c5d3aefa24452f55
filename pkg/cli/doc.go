// Package cli implements tenantctl, the operator tool for the tenant
// isolation core.
//
// # Commands
//
// migrate: apply the PostgreSQL schema
//
//	tenantctl migrate
//
// tenant: inspect a tenant and its memberships
//
//	tenantctl tenant --slug acme
//
// reassign: move a misfiled resource between two tenants owned by --admin
//
//	tenantctl reassign --type project --id 3f2c... \
//		--from t_acme --to t_globex --admin u_alice \
//		--reason "created in the wrong tenant"
//
// replay-deadletters: write audit entries that exhausted their retries
//
//	tenantctl replay-deadletters
//
// archive-audit: upload a tenant's audit trail as NDJSON, e.g. at offboarding
//
//	tenantctl archive-audit --tenant t_acme
//
// plans: validate a plan catalog file
//
//	tenantctl plans --file plans.yaml
//
// Configuration is read from TENANTGUARD_* environment variables, the same
// as the server.
package cli
