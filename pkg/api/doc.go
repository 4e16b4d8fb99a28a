// Package api assembles the roomdesk HTTP surface.
//
// Routes:
//
//	POST /auth/register, /auth/login        public, rate limited
//	GET  /auth/info, POST /auth/logout       gated by "users"
//	GET  /auth/all, POST /auth/role          gated by "users"
//	/role, /role/{id}, /role/permission      gated by "roles"
//	/permission, /permission/{id}            gated by "permissions"
//	/booking, /customer, /invoice, /product,
//	/room, /song, /staff (and sub-paths)     gated by the table name
//	/product/stock                           "products" plus an inventory role
//	/healthz, /readyz                        unauthenticated
//
// Resource routes are forwarded to the configured upstream once the gate
// admits them. Without an upstream they answer 501.
//
// Every response uses the httputil envelope:
//
//	{"status": "success", "message": "...", "data": ...}
package api
