// Package config loads application configuration from environment variables.
//
// # Overview
//
// LoadConfig reads TENANTGUARD_* variables, seeding them from a .env file in
// the working directory when present, applies defaults and validates the
// result. The subscription plan catalog lives in a separate YAML file that
// PlanCatalog reloads on change.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANTGUARD_HOST="0.0.0.0"
//	TENANTGUARD_PORT="8080"
//	TENANTGUARD_HEALTH_PORT="9090"
//
// Storage settings:
//
//	TENANTGUARD_DATABASE_URL="postgres://localhost/tenantguard?sslmode=disable"
//	TENANTGUARD_REDIS_URL="redis://localhost:6379"
//	TENANTGUARD_STORE_TIMEOUT="3s"
//
// Auth and billing:
//
//	TENANTGUARD_AUTH_MODE="hs256"  # hs256, oidc
//	TENANTGUARD_AUTH_JWT_SECRET="..."
//	TENANTGUARD_BILLING_WEBHOOK_SECRET="..."
//	TENANTGUARD_PLANS_FILE="/etc/tenantguard/plans.yaml"
//
// Audit:
//
//	TENANTGUARD_AUDIT_DEADLETTER_PATH="/var/lib/tenantguard/audit-deadletter.log"
//	TENANTGUARD_AUDIT_REPLAY_SCHEDULE="@every 5m"
//	TENANTGUARD_AUDIT_S3_BUCKET="tenantguard-audit"
//
// Observability settings:
//
//	TENANTGUARD_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTGUARD_OTEL_ENABLED="true"
//	TENANTGUARD_OTEL_ENDPOINT="otel-collector:4317"
package config
