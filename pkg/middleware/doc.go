// Package middleware provides the HTTP middleware in front of every tenant
// scoped route.
//
// # Middleware Components
//
// RequestID assigns a request id and attaches the request logger. Logging
// writes one access log line per request.
//
// Authenticate verifies the bearer token with a TokenVerifier (HS256 shared
// secret or OIDC discovery) and keeps only the subject claim. Tenant and
// role claims in the token are never trusted.
//
// TenantContext resolves the active tenant from the user's memberships and
// the optional X-Tenant-ID header:
//
//	router.Use(middleware.Authenticate(verifier))
//	router.Use(middleware.TenantContext(resolver))
//
// RateLimit applies a per-user fixed window counted in Redis.
package middleware
