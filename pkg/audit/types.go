package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Identity events
	EventUserRegister EventType = "auth.register"
	EventLogin        EventType = "auth.login"
	EventLogout       EventType = "auth.logout"

	// Catalog events
	EventRoleCreate       EventType = "role.create"
	EventRoleUpdate       EventType = "role.update"
	EventRoleDelete       EventType = "role.delete"
	EventPermissionCreate EventType = "permission.create"
	EventPermissionUpdate EventType = "permission.update"
	EventPermissionDelete EventType = "permission.delete"

	// Assignment events
	EventRolePermissionsSync EventType = "assignment.role_permissions"
	EventUserRolesSync       EventType = "assignment.user_roles"

	// Authorization events
	EventAccessDenied EventType = "authz.access_denied"

	// Request events recorded by the middleware
	EventHTTPRequest EventType = "http.request"
)

// Status represents the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event represents a single audit record
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"event_type"`
	Status    Status    `json:"status"`

	// Actor
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Resource
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Request context
	RequestID  string `json:"request_id,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
