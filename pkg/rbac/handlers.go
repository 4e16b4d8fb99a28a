package rbac

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/audit"
	"github.com/platinummonkey/roomdesk/pkg/httputil"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// Handlers serves role, permission and assignment endpoints
type Handlers struct {
	store *Store
	gate  *PermissionMiddleware
}

// NewHandlers creates RBAC handlers guarded by gate
func NewHandlers(store *Store, gate *PermissionMiddleware) *Handlers {
	return &Handlers{store: store, gate: gate}
}

// RegisterRoutes mounts /role and /permission on router. requireAuth must
// install the auth context.
func (h *Handlers) RegisterRoutes(router *mux.Router, requireAuth func(http.Handler) http.Handler) {
	roles := router.PathPrefix("/role").Subrouter()
	roles.Use(requireAuth, h.gate.RequirePermission(ResourceRoles))
	roles.HandleFunc("", h.listRoles).Methods(http.MethodGet)
	roles.HandleFunc("", h.createRole).Methods(http.MethodPost)
	roles.HandleFunc("/permission", h.listRolePermissions).Methods(http.MethodGet)
	roles.HandleFunc("/permission", h.syncRolePermissions).Methods(http.MethodPost)
	roles.HandleFunc("/{id:[0-9]+}", h.getRole).Methods(http.MethodGet)
	roles.HandleFunc("/{id:[0-9]+}", h.updateRole).Methods(http.MethodPut, http.MethodPatch)
	roles.HandleFunc("/{id:[0-9]+}", h.deleteRole).Methods(http.MethodDelete)

	perms := router.PathPrefix("/permission").Subrouter()
	perms.Use(requireAuth, h.gate.RequirePermission(ResourcePermissions))
	perms.HandleFunc("", h.listPermissions).Methods(http.MethodGet)
	perms.HandleFunc("", h.createPermission).Methods(http.MethodPost)
	perms.HandleFunc("/{id:[0-9]+}", h.getPermission).Methods(http.MethodGet)
	perms.HandleFunc("/{id:[0-9]+}", h.updatePermission).Methods(http.MethodPut, http.MethodPatch)
	perms.HandleFunc("/{id:[0-9]+}", h.deletePermission).Methods(http.MethodDelete)
}

// RegisterUserRoutes mounts the user assignment routes on the /auth subrouter
func (h *Handlers) RegisterUserRoutes(router *mux.Router, requireAuth func(http.Handler) http.Handler) {
	guard := httputil.Chain(requireAuth, h.gate.RequirePermission(ResourceUsers))
	router.Handle("/all", guard(http.HandlerFunc(h.listUsers))).Methods(http.MethodGet)
	router.Handle("/role", guard(http.HandlerFunc(h.syncUserRoles))).Methods(http.MethodPost)
}

func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	roles, total, err := h.store.ListRoles(r.Context(), page.Limit, page.Offset())
	if err != nil {
		h.writeError(w, r, err, "failed to list roles")
		return
	}

	httputil.WritePaginated(w, "Get all ROLE successfully!", roles, page.Paginate(total))
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var input RoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.store.CreateRole(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err, "failed to create role")
		return
	}

	h.record(r, audit.EventRoleCreate, ResourceRoles, role.ID, map[string]interface{}{"key": role.Key})
	httputil.WriteCreated(w, "Create new ROLE successfully!", nil)
}

func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "failed to get role")
		return
	}

	httputil.WriteOK(w, fmt.Sprintf("Get ROLE details with id::%d successfully!", id), role)
}

func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var input RoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.store.UpdateRole(r.Context(), id, input)
	if err != nil {
		h.writeError(w, r, err, "failed to update role")
		return
	}

	h.record(r, audit.EventRoleUpdate, ResourceRoles, id, map[string]interface{}{"key": role.Key})
	httputil.WriteOK(w, fmt.Sprintf("Update ROLE with id::%d successfully!", id), role)
}

func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		h.writeError(w, r, err, "failed to delete role")
		return
	}

	h.record(r, audit.EventRoleDelete, ResourceRoles, id, nil)
	httputil.WriteOK(w, fmt.Sprintf("Remove ROLE with id::%d successfully!", id), nil)
}

func (h *Handlers) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRolesWithPermissions(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to list role permissions")
		return
	}

	httputil.WriteOK(w, "Get all ROLE successfully!", roles)
}

func (h *Handlers) syncRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.sync(w, r, h.store.SyncRolePermissions, audit.EventRolePermissionsSync, ResourceRoles,
		"Update Permissions for Role successfully!")
}

func (h *Handlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	perms, total, err := h.store.ListPermissions(r.Context(), page.Limit, page.Offset())
	if err != nil {
		h.writeError(w, r, err, "failed to list permissions")
		return
	}

	httputil.WritePaginated(w, "Get all PERMISSION successfully!", perms, page.Paginate(total))
}

func (h *Handlers) createPermission(w http.ResponseWriter, r *http.Request) {
	var input PermissionInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	perm, err := h.store.CreatePermission(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err, "failed to create permission")
		return
	}

	h.record(r, audit.EventPermissionCreate, ResourcePermissions, perm.ID, map[string]interface{}{"key": perm.Key})
	httputil.WriteCreated(w, "Create new PERMISSION successfully!", nil)
}

func (h *Handlers) getPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perm, err := h.store.GetPermission(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "failed to get permission")
		return
	}

	httputil.WriteOK(w, fmt.Sprintf("Get PERMISSION details with id::%d successfully!", id), perm)
}

func (h *Handlers) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var input PermissionInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	perm, err := h.store.UpdatePermission(r.Context(), id, input)
	if err != nil {
		h.writeError(w, r, err, "failed to update permission")
		return
	}

	h.record(r, audit.EventPermissionUpdate, ResourcePermissions, id, map[string]interface{}{"key": perm.Key})
	httputil.WriteOK(w, fmt.Sprintf("Update PERMISSION with id::%d successfully!", id), perm)
}

func (h *Handlers) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeletePermission(r.Context(), id); err != nil {
		h.writeError(w, r, err, "failed to delete permission")
		return
	}

	h.record(r, audit.EventPermissionDelete, ResourcePermissions, id, nil)
	httputil.WriteOK(w, fmt.Sprintf("Remove PERMISSION with id::%d successfully!", id), nil)
}

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsersWithRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to list users")
		return
	}

	httputil.WriteOK(w, "Get all USER successfully!", users)
}

func (h *Handlers) syncUserRoles(w http.ResponseWriter, r *http.Request) {
	h.sync(w, r, h.store.SyncUserRoles, audit.EventUserRolesSync, ResourceUsers,
		"Update Roles for User successfully!")
}

type syncFunc func(ctx context.Context, assignments Assignments) ([]SyncResult, error)

func (h *Handlers) sync(w http.ResponseWriter, r *http.Request, apply syncFunc, event audit.EventType, resource, message string) {
	var assignments Assignments
	if !httputil.ParseJSONOrError(w, r, &assignments) {
		return
	}

	results, err := apply(r.Context(), assignments)
	if err != nil {
		h.writeError(w, r, err, "decentralize failed")
		return
	}

	added, removed := 0, 0
	for _, res := range results {
		added += len(res.Added)
		removed += len(res.Removed)
	}
	h.record(r, event, resource, 0, map[string]interface{}{
		"principals": len(results),
		"added":      added,
		"removed":    removed,
	})

	httputil.WriteOK(w, message, nil)
}

func (h *Handlers) record(r *http.Request, event audit.EventType, resource string, id int64, metadata map[string]interface{}) {
	e := &audit.Event{
		Type:         event,
		Status:       audit.StatusSuccess,
		ResourceType: resource,
		Metadata:     metadata,
	}
	if id > 0 {
		e.ResourceID = strconv.FormatInt(id, 10)
	}

	ctx := r.Context()
	if err := audit.FromContext(ctx).Log(ctx, e); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}

// writeError logs and wraps anything that is not a client error. Internal
// failures echo the underlying text.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if apierr.StatusCode(err) >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error(msg)
		err = apierr.Internal(err)
	}
	httputil.WriteError(w, err)
}
