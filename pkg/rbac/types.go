package rbac

import (
	"time"
)

// Role is a named bundle of permissions. Key is derived from ID and Name.
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleWithPermissions is a role with its assigned permissions preloaded.
// Permissions is always a list, empty for a role with none.
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// Permission grants management of a resource. A check for resource R passes
// when R equals the permission's Key or its RelatedResource.
type Permission struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Key             string    `json:"key"`
	RelatedResource *string   `json:"related_resource"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UserWithRoles is a user with its assigned roles preloaded
type UserWithRoles struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Roles     []Role    `json:"roles"`
}

// RoleInput is the create/update payload for roles
type RoleInput struct {
	Name string `json:"name"`
}

// PermissionInput is the create/update payload for permissions
type PermissionInput struct {
	Name            string  `json:"name"`
	RelatedResource *string `json:"related_resource"`
}

// Assignments maps a principal to the full set of keys it should hold.
// A null list leaves the principal untouched; an empty list clears it.
type Assignments map[string][]string

// SyncResult describes the edge changes made for one principal
type SyncResult struct {
	Principal string   `json:"principal"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

// Resource names guarded by the gate
const (
	ResourceRoles       = "roles"
	ResourcePermissions = "permissions"
	ResourceUsers       = "users"
	ResourceBookings    = "bookings"
	ResourceCustomers   = "customers"
	ResourceInvoices    = "invoices"
	ResourceProducts    = "products"
	ResourceRooms       = "rooms"
	ResourceSongs       = "songs"
	ResourceStaffs      = "staffs"
)

// Role keys allowed to manage product stock
var InventoryRoleKeys = []string{"01_admin", "03_inventory_management"}
