package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/database"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// Assignment kinds, also used as metric labels
const (
	KindRolePermissions = "role_permissions"
	KindUserRoles       = "user_roles"
)

// edgeKind describes one of the two assignment edge tables
type edgeKind struct {
	name        string
	principal   string // noun in not-found messages
	target      string // noun in missing-key messages
	targetTable string
	edgeTable   string
	ownerCol    string
	targetCol   string

	// resolve returns the owner column value for principal, or nil when the
	// principal does not exist
	resolve func(ctx context.Context, q database.Querier, principal string) (interface{}, error)
}

var rolePermissionEdges = edgeKind{
	name:        KindRolePermissions,
	principal:   "ROLE",
	target:      "Permission Key",
	targetTable: "permissions",
	edgeTable:   "role_permissions",
	ownerCol:    "role_key",
	targetCol:   "permission_key",
	resolve:     resolveRole,
}

var userRoleEdges = edgeKind{
	name:        KindUserRoles,
	principal:   "USER",
	target:      "Role Key",
	targetTable: "roles",
	edgeTable:   "user_roles",
	ownerCol:    "user_id",
	targetCol:   "role_key",
	resolve:     resolveUser,
}

// SyncRolePermissions reconciles each role's permission keys with the
// requested set. Roles are addressed by key.
func (s *Store) SyncRolePermissions(ctx context.Context, assignments Assignments) ([]SyncResult, error) {
	return s.decentralize(ctx, rolePermissionEdges, assignments)
}

// SyncUserRoles reconciles each user's role keys with the requested set.
// Users are addressed as "user:<id>", by username, or by a bare id when no
// username matches it.
func (s *Store) SyncUserRoles(ctx context.Context, assignments Assignments) ([]SyncResult, error) {
	return s.decentralize(ctx, userRoleEdges, assignments)
}

// decentralize applies every entry in one transaction. Any failure rolls
// back all entries.
func (s *Store) decentralize(ctx context.Context, kind edgeKind, assignments Assignments) ([]SyncResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.decentralize")
	defer span.End()
	span.SetAttributes(
		attribute.String("rbac.kind", kind.name),
		attribute.Int("rbac.principals", len(assignments)),
	)

	start := time.Now()
	principals := make([]string, 0, len(assignments))
	for p := range assignments {
		principals = append(principals, p)
	}
	sort.Strings(principals)

	var results []SyncResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		results = results[:0]
		for _, principal := range principals {
			result, err := s.syncOne(ctx, tx, kind, principal, assignments[principal])
			if err != nil {
				return err
			}
			results = append(results, result)
		}
		return nil
	})

	added, removed := 0, 0
	for _, r := range results {
		added += len(r.Added)
		removed += len(r.Removed)
	}

	outcome := "success"
	if err != nil {
		outcome = outcomeFor(err)
		added, removed = 0, 0
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.ObserveDecentralize(kind.name, outcome, added, removed, time.Since(start))

	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) syncOne(ctx context.Context, tx *sql.Tx, kind edgeKind, principal string, requested []string) (SyncResult, error) {
	result := SyncResult{Principal: principal, Added: []string{}, Removed: []string{}, Unchanged: []string{}}

	owner, err := kind.resolve(ctx, tx, principal)
	if err != nil {
		return result, err
	}
	if owner == nil {
		return result, apierr.NotFound(fmt.Sprintf("%s::%s not found", kind.principal, principal))
	}

	// null list: principal must exist, edges stay as they are
	if requested == nil {
		return result, nil
	}

	want := dedupe(requested)
	if err := ensureKeysExist(ctx, tx, kind, want); err != nil {
		return result, err
	}

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", kind.targetCol, kind.edgeTable, kind.ownerCol), owner)
	if err != nil {
		return result, fmt.Errorf("failed to load current %s: %w", kind.edgeTable, err)
	}
	current, err := scanStrings(rows)
	if err != nil {
		return result, fmt.Errorf("failed to load current %s: %w", kind.edgeTable, err)
	}

	result.Added, result.Removed, result.Unchanged = diff(current, want)

	if len(result.Removed) > 0 {
		args := []interface{}{owner}
		for _, k := range result.Removed {
			args = append(args, k)
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s IN (%s)",
			kind.edgeTable, kind.ownerCol, kind.targetCol, database.Placeholders(2, len(result.Removed)))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return result, fmt.Errorf("failed to remove %s: %w", kind.edgeTable, err)
		}
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (%s, %s) DO NOTHING
	`, kind.edgeTable, kind.ownerCol, kind.targetCol, kind.ownerCol, kind.targetCol)
	now := s.now()
	for _, k := range result.Added {
		if _, err := tx.ExecContext(ctx, insert, owner, k, now); err != nil {
			// the target row went away after ensureKeysExist read it
			if database.IsForeignKeyViolation(err) {
				return result, missingKeys(kind, []string{k})
			}
			return result, fmt.Errorf("failed to add %s: %w", kind.edgeTable, err)
		}
	}

	return result, nil
}

// ensureKeysExist fails with every requested key that is absent from the
// target table
func ensureKeysExist(ctx context.Context, tx *sql.Tx, kind edgeKind, want []string) error {
	if len(want) == 0 {
		return nil
	}

	args := make([]interface{}, len(want))
	for i, k := range want {
		args[i] = k
	}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT "key" FROM %s WHERE "key" IN (%s)`,
		kind.targetTable, database.Placeholders(1, len(want))), args...)
	if err != nil {
		return fmt.Errorf("failed to check %s keys: %w", kind.targetTable, err)
	}
	found, err := scanStrings(rows)
	if err != nil {
		return fmt.Errorf("failed to check %s keys: %w", kind.targetTable, err)
	}

	exists := make(map[string]bool, len(found))
	for _, k := range found {
		exists[k] = true
	}
	var missing []string
	for _, k := range want {
		if !exists[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return missingKeys(kind, missing)
}

func missingKeys(kind edgeKind, missing []string) error {
	return apierr.Validation(fmt.Sprintf("%s::%s does not exist!", kind.target, strings.Join(missing, ","))).
		WithData(map[string][]string{"missing_keys": missing})
}

func resolveRole(ctx context.Context, q database.Querier, principal string) (interface{}, error) {
	var key string
	err := q.QueryRowContext(ctx, `SELECT "key" FROM roles WHERE "key" = $1`, principal).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	return key, nil
}

// resolveUser reads "user:<id>" as an id. A bare number is a username
// first and an id only when no user has that name.
func resolveUser(ctx context.Context, q database.Querier, principal string) (interface{}, error) {
	ref, explicit := strings.CutPrefix(principal, "user:")
	n, convErr := strconv.ParseInt(ref, 10, 64)

	var (
		id  int64
		err error
	)
	if explicit && convErr == nil {
		err = q.QueryRowContext(ctx, "SELECT id FROM users WHERE id = $1", n).Scan(&id)
	} else {
		err = q.QueryRowContext(ctx, "SELECT id FROM users WHERE username = $1", ref).Scan(&id)
		if err == sql.ErrNoRows && convErr == nil {
			err = q.QueryRowContext(ctx, "SELECT id FROM users WHERE id = $1", n).Scan(&id)
		}
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return id, nil
}

// diff splits want against current into sorted added, removed and unchanged sets
func diff(current, want []string) (added, removed, unchanged []string) {
	have := make(map[string]bool, len(current))
	for _, k := range current {
		have[k] = true
	}
	wanted := make(map[string]bool, len(want))
	for _, k := range want {
		wanted[k] = true
	}

	added, removed, unchanged = []string{}, []string{}, []string{}
	for _, k := range want {
		if have[k] {
			unchanged = append(unchanged, k)
		} else {
			added = append(added, k)
		}
	}
	for _, k := range current {
		if !wanted[k] {
			removed = append(removed, k)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(unchanged)
	return added, removed, unchanged
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func outcomeFor(err error) string {
	switch {
	case apierr.IsNotFound(err):
		return "not_found"
	case apierr.IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}
