// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared across packages are keyed here so that
// producers and consumers agree on both the key and the stored type.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithUserID(ctx, subject)
//	userID := contextkeys.GetUserID(ctx)
//
// Tenant scope is never read from the context by data operations. Services
// receive it as an explicit argument; the values here exist for logging,
// tracing and HTTP plumbing only.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit metadata
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated subject from the auth provider
	// Set by: middleware.Authenticator
	// Used by: Logger, tenant resolution
	// Type: string
	UserIDKey Key = "user_id"

	// TenantIDKey contains the resolved active tenant id
	// Set by: middleware.TenantContext
	// Used by: Logger
	// Type: string
	TenantIDKey Key = "tenant_id"

	// ResolutionKey contains tenantctx.Resolution
	// Set by: middleware.TenantContext
	// Used by: API handlers
	// Type: tenantctx.Resolution
	ResolutionKey Key = "tenant_resolution"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithTenantID adds the active tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithResolution adds a tenant resolution to the context
func WithResolution(ctx context.Context, resolution interface{}) context.Context {
	return context.WithValue(ctx, ResolutionKey, resolution)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetTenantID retrieves the active tenant ID from context
func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}
