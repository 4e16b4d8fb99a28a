// Package rbac implements the roomdesk authorization core: roles, permissions,
// the assignment graph that binds users to roles and roles to permissions,
// and the gate that every protected route passes through.
//
// # Keys
//
// Roles and permissions carry a derived string key alongside their numeric
// id. The key is "0" + id + "_" + slug(name) and is recomputed whenever the
// name changes:
//
//	role, _ := store.CreateRole(ctx, rbac.RoleInput{Name: "Admin"})
//	// role.Key == "01_admin"
//
// Assignment edges reference keys, not ids. The edge tables declare
// ON UPDATE CASCADE and ON DELETE CASCADE against the key columns, so a rename
// carries its edges along and a delete removes them.
//
// # Decentralize
//
// SyncRolePermissions and SyncUserRoles replace the full target set of each
// principal in the payload:
//
//	_, err := store.SyncRolePermissions(ctx, rbac.Assignments{
//		"01_admin":   {"01_manage_inventory", "02_manage_staff"},
//		"02_staff":   {},  // clears every permission
//		"03_manager": nil, // leaves the role as it is
//	})
//
// Every principal is applied inside one transaction. An unknown principal
// fails with a not-found error; unknown target keys fail with a validation
// error listing every missing key. Either way nothing is written.
//
// Users are addressed as "user:<id>", by username, or by a bare id when no
// username matches it.
//
// # Gate
//
// PermissionChecker resolves a user's roles and then the permissions of those
// roles on every request. CanManage allows a resource when it equals the key
// or the related resource of any permission in that set. A user with no roles
// is denied everything.
//
// PermissionMiddleware turns the checker into route guards:
//
//	gate := rbac.NewPermissionMiddleware(checker)
//	router.Handle("/room", gate.RequirePermission(rbac.ResourceRooms)(proxy))
//	router.Handle("/product/stock", gate.RequireAnyRole(rbac.InventoryRoleKeys...)(proxy))
//
// Both guards install a per-request capability memo so stacked guards load
// the user's capabilities once. Nothing is cached across requests.
package rbac
