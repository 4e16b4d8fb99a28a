// Package audit records security-relevant events: registrations, logins,
// catalog mutations, assignment changes and access denials.
//
// # Event Types
//
// Identity: auth.register, auth.login, auth.logout
// Catalog: role.create, role.update, role.delete, permission.*
// Assignment: assignment.role_permissions, assignment.user_roles
// Authorization: authz.access_denied
//
// # Usage
//
//	auditLogger := audit.NewStructuredLogger(logger)
//	router.Use(audit.NewMiddleware(auditLogger).Handler)
//
//	audit.FromContext(ctx).Log(ctx, &audit.Event{
//		Type:   audit.EventRoleCreate,
//		Status: audit.StatusSuccess,
//	})
//
// Events pick up the request id and user id from the request context when
// the caller leaves them empty.
package audit
