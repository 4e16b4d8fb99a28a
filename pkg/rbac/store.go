package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/database"
	"github.com/platinummonkey/roomdesk/pkg/keys"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// Store handles role, permission and assignment persistence
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
	now     func() time.Time
}

// NewStore creates a new RBAC store. metrics may be nil.
func NewStore(db *sql.DB, metrics *observability.Metrics) *Store {
	return &Store{
		db:      db,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// catalog describes one of the two keyed tables
type catalog struct {
	table string
	noun  string // ROLE, PERMISSION
}

var (
	roleCatalog       = catalog{table: "roles", noun: "ROLE"}
	permissionCatalog = catalog{table: "permissions", noun: "PERMISSION"}
)

func (c catalog) notFound(id int64) error {
	return apierr.NotFound(fmt.Sprintf("%s with id::%d not found!", c.noun, id))
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apierr.Validation("The given data was invalid.").
			WithField("name", "The name field is required.")
	}
	if !keys.Valid(name) {
		return apierr.Validation("The given data was invalid.").
			WithField("name", "The name must contain at least one letter or digit.")
	}
	return nil
}

func nameTaken() error {
	return apierr.Validation("The given data was invalid.").
		WithField("name", "The name has already been taken.")
}

// insertKeyed inserts a row, then derives its key from the new id inside the
// same transaction.
func (s *Store) insertKeyed(ctx context.Context, tx *sql.Tx, c catalog, name string, extraCols []string, extraArgs []interface{}) (int64, string, time.Time, error) {
	now := s.now()

	cols := append([]string{"name"}, extraCols...)
	cols = append(cols, "created_at", "updated_at")
	args := append([]interface{}{name}, extraArgs...)
	args = append(args, now, now)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		c.table, strings.Join(cols, ", "), database.Placeholders(1, len(args)))

	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if database.IsUniqueViolation(err) {
			return 0, "", now, nameTaken()
		}
		return 0, "", now, fmt.Errorf("failed to create %s: %w", strings.ToLower(c.noun), err)
	}

	key := keys.Derive(id, name)
	update := fmt.Sprintf(`UPDATE %s SET "key" = $1 WHERE id = $2`, c.table)
	if _, err := tx.ExecContext(ctx, update, key, id); err != nil {
		if database.IsUniqueViolation(err) {
			return 0, "", now, apierr.Validation(fmt.Sprintf("%s key %s is already in use", c.noun, key))
		}
		return 0, "", now, fmt.Errorf("failed to set %s key: %w", strings.ToLower(c.noun), err)
	}

	return id, key, now, nil
}

// renameKeyed updates the name and the derived key in one statement. Edge
// rows follow the key through ON UPDATE CASCADE.
func (s *Store) renameKeyed(ctx context.Context, c catalog, id int64, name string, extraCols []string, extraArgs []interface{}) error {
	now := s.now()
	key := keys.Derive(id, name)

	sets := []string{"name = $1", `"key" = $2`}
	args := []interface{}{name, key}
	for i, col := range extraCols {
		args = append(args, extraArgs[i])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", c.table, strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nameTaken()
		}
		return fmt.Errorf("failed to update %s: %w", strings.ToLower(c.noun), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return c.notFound(id)
	}

	return nil
}

func (s *Store) deleteKeyed(ctx context.Context, c catalog, id int64) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", strings.ToLower(c.noun), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return c.notFound(id)
	}

	return nil
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return total, nil
}

// CreateRole creates a role and derives its key
func (s *Store) CreateRole(ctx context.Context, input RoleInput) (*Role, error) {
	name := strings.TrimSpace(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	role := &Role{Name: name}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		id, key, now, err := s.insertKeyed(ctx, tx, roleCatalog, name, nil, nil)
		if err != nil {
			return err
		}
		role.ID, role.Key, role.CreatedAt, role.UpdatedAt = id, key, now, now
		return nil
	})
	if err != nil {
		return nil, err
	}

	return role, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, "key", created_at, updated_at
		FROM roles
		WHERE id = $1
	`, id)

	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, roleCatalog.notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by exact name, or nil when absent
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, "key", created_at, updated_at
		FROM roles
		WHERE name = $1
	`, name)

	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles returns one page of roles ordered by id and the total count
func (s *Store) ListRoles(ctx context.Context, limit, offset int) ([]Role, int, error) {
	total, err := s.count(ctx, "roles")
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, "key", created_at, updated_at
		FROM roles
		ORDER BY id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}

	return roles, total, rows.Err()
}

// UpdateRole renames a role and re-derives its key before the write
func (s *Store) UpdateRole(ctx context.Context, id int64, input RoleInput) (*Role, error) {
	name := strings.TrimSpace(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	if err := s.renameKeyed(ctx, roleCatalog, id, name, nil, nil); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, id)
}

// DeleteRole removes a role. Its edges cascade.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return s.deleteKeyed(ctx, roleCatalog, id)
}

// CreatePermission creates a permission and derives its key
func (s *Store) CreatePermission(ctx context.Context, input PermissionInput) (*Permission, error) {
	name := strings.TrimSpace(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	perm := &Permission{Name: name, RelatedResource: normalizeResource(input.RelatedResource)}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		id, key, now, err := s.insertKeyed(ctx, tx, permissionCatalog, name,
			[]string{"related_resource"}, []interface{}{nullString(perm.RelatedResource)})
		if err != nil {
			return err
		}
		perm.ID, perm.Key, perm.CreatedAt, perm.UpdatedAt = id, key, now, now
		return nil
	})
	if err != nil {
		return nil, err
	}

	return perm, nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, "key", related_resource, created_at, updated_at
		FROM permissions
		WHERE id = $1
	`, id)

	perm, err := scanPermission(row)
	if err == sql.ErrNoRows {
		return nil, permissionCatalog.notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return perm, nil
}

// GetPermissionByName retrieves a permission by exact name, or nil when absent
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, "key", related_resource, created_at, updated_at
		FROM permissions
		WHERE name = $1
	`, name)

	perm, err := scanPermission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return perm, nil
}

// ListPermissions returns one page of permissions ordered by id and the total count
func (s *Store) ListPermissions(ctx context.Context, limit, offset int) ([]Permission, int, error) {
	total, err := s.count(ctx, "permissions")
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, "key", related_resource, created_at, updated_at
		FROM permissions
		ORDER BY id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, *perm)
	}

	return perms, total, rows.Err()
}

// UpdatePermission renames a permission, re-deriving its key, and replaces
// its related resource
func (s *Store) UpdatePermission(ctx context.Context, id int64, input PermissionInput) (*Permission, error) {
	name := strings.TrimSpace(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	related := normalizeResource(input.RelatedResource)
	if err := s.renameKeyed(ctx, permissionCatalog, id, name,
		[]string{"related_resource"}, []interface{}{nullString(related)}); err != nil {
		return nil, err
	}
	return s.GetPermission(ctx, id)
}

// DeletePermission removes a permission. Its edges cascade.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	return s.deleteKeyed(ctx, permissionCatalog, id)
}

// ListRolesWithPermissions returns every role with its permissions preloaded
func (s *Store) ListRolesWithPermissions(ctx context.Context) ([]RoleWithPermissions, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, "key", created_at, updated_at
		FROM roles
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	roles := []RoleWithPermissions{}
	index := make(map[string]int)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		index[role.Key] = len(roles)
		roles = append(roles, RoleWithPermissions{Role: *role, Permissions: []Permission{}})
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	edges, err := s.db.QueryContext(ctx, `
		SELECT rp.role_key, p.id, p.name, p."key", p.related_resource, p.created_at, p.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p."key" = rp.permission_key
		ORDER BY p.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer edges.Close()

	for edges.Next() {
		var roleKey string
		perm, err := scanPermissionWith(edges, &roleKey)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		if i, ok := index[roleKey]; ok {
			roles[i].Permissions = append(roles[i].Permissions, *perm)
		}
	}

	return roles, edges.Err()
}

// ListUsersWithRoles returns every user with assigned roles preloaded
func (s *Store) ListUsersWithRoles(ctx context.Context) ([]UserWithRoles, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, created_at, updated_at
		FROM users
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := []UserWithRoles{}
	index := make(map[int64]int)
	for rows.Next() {
		var u UserWithRoles
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Roles = []Role{}
		index[u.ID] = len(users)
		users = append(users, u)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	edges, err := s.db.QueryContext(ctx, `
		SELECT ur.user_id, r.id, r.name, r."key", r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r."key" = ur.role_key
		ORDER BY r.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer edges.Close()

	for edges.Next() {
		var (
			userID int64
			role   Role
			key    sql.NullString
		)
		if err := edges.Scan(&userID, &role.ID, &role.Name, &key, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		role.Key = key.String
		if i, ok := index[userID]; ok {
			users[i].Roles = append(users[i].Roles, role)
		}
	}

	return users, edges.Err()
}

// UserRoleKeys returns the keys of the roles assigned to a user
func (s *Store) UserRoleKeys(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role_key FROM user_roles WHERE user_id = $1 ORDER BY role_key", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	return scanStrings(rows)
}

// PermissionsForRoles returns the distinct permissions reachable from roleKeys
func (s *Store) PermissionsForRoles(ctx context.Context, roleKeys []string) ([]Permission, error) {
	if len(roleKeys) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(roleKeys))
	for i, k := range roleKeys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT p.id, p.name, p."key", p.related_resource, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_key = p."key"
		WHERE rp.role_key IN (%s)
		ORDER BY p.id
	`, database.Placeholders(1, len(args))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, *perm)
	}

	return perms, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row scanner) (*Role, error) {
	var (
		role Role
		key  sql.NullString
	)
	if err := row.Scan(&role.ID, &role.Name, &key, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.Key = key.String
	return &role, nil
}

func scanPermission(row scanner) (*Permission, error) {
	return scanPermissionWith(row)
}

// scanPermissionWith scans leading columns into prefix before the permission columns
func scanPermissionWith(row scanner, prefix ...interface{}) (*Permission, error) {
	var (
		perm    Permission
		key     sql.NullString
		related sql.NullString
	)
	dest := append(prefix, &perm.ID, &perm.Name, &key, &related, &perm.CreatedAt, &perm.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	perm.Key = key.String
	if related.Valid {
		perm.RelatedResource = &related.String
	}
	return &perm, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func normalizeResource(r *string) *string {
	if r == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*r)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
