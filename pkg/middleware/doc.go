// Package middleware provides HTTP middleware for bearer authentication and
// rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: Bearer token authentication
//
//	authMW := middleware.NewAuthMiddleware(authService, false)
//	protected.Use(authMW.Handler)
//	// Extracts "Authorization: Bearer <token>", installs auth.AuthContext
//
// Failures respond 401 with the message "Unauthenticated.".
//
// RateLimitMiddleware: per-IP throttling for credential endpoints
//
//	limiter := middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
//	login := middleware.NewRateLimitMiddleware(limiter, "login", metrics)
//
// Both limiters count in fixed windows that open with a client's first
// request; Retry-After is the time left in that window. DistributedRateLimiter
// keeps the counters in Redis so replicas share them. Limiter errors fail open.
//
// Capability checks (role and permission gates) live in the rbac package.
package middleware
