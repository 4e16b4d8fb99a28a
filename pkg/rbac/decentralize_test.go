package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/database"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// seedCatalog creates the Admin role and permissions named A through E
func seedCatalog(t *testing.T, store *Store) (*Role, map[string]string) {
	t.Helper()
	ctx := context.Background()

	role, err := store.CreateRole(ctx, RoleInput{Name: "Admin"})
	require.NoError(t, err)

	keys := make(map[string]string)
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		perm, err := store.CreatePermission(ctx, PermissionInput{Name: name})
		require.NoError(t, err)
		keys[name] = perm.Key
	}
	return role, keys
}

func rolePermissionKeys(t *testing.T, store *Store, roleKey string) []string {
	t.Helper()
	perms, err := store.PermissionsForRoles(context.Background(), []string{roleKey})
	require.NoError(t, err)
	out := []string{}
	for _, p := range perms {
		out = append(out, p.Key)
	}
	return out
}

func TestSyncRolePermissions_Scenario(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, RoleInput{Name: "Admin"})
	require.NoError(t, err)
	require.Equal(t, "01_admin", role.Key)
	perm, err := store.CreatePermission(ctx, PermissionInput{Name: "Manage Inventory"})
	require.NoError(t, err)
	require.Equal(t, "01_manage_inventory", perm.Key)

	results, err := store.SyncRolePermissions(ctx, Assignments{"01_admin": {"01_manage_inventory"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"01_manage_inventory"}, results[0].Added)
	assert.Equal(t, []string{"01_manage_inventory"}, rolePermissionKeys(t, store, "01_admin"))

	results, err = store.SyncRolePermissions(ctx, Assignments{"01_admin": {"01_manage_inventory"}})
	require.NoError(t, err)
	assert.Empty(t, results[0].Added)
	assert.Empty(t, results[0].Removed)
	assert.Equal(t, []string{"01_manage_inventory"}, results[0].Unchanged)

	_, err = store.SyncRolePermissions(ctx, Assignments{"01_admin": {"nonexistent_key"}})
	require.Error(t, err)
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, []string{"01_manage_inventory"}, rolePermissionKeys(t, store, "01_admin"))
}

func TestSyncRolePermissions_Diff(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	role, k := seedCatalog(t, store)

	_, err := store.SyncRolePermissions(ctx, Assignments{role.Key: {k["A"], k["B"], k["C"]}})
	require.NoError(t, err)

	results, err := store.SyncRolePermissions(ctx, Assignments{role.Key: {k["B"], k["C"], k["D"]}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{k["D"]}, results[0].Added)
	assert.Equal(t, []string{k["A"]}, results[0].Removed)
	assert.Equal(t, []string{k["B"], k["C"]}, results[0].Unchanged)
	assert.Equal(t, []string{k["B"], k["C"], k["D"]}, rolePermissionKeys(t, store, role.Key))
}

func TestSyncRolePermissions_DuplicatesInPayload(t *testing.T) {
	store, _ := newTestStore(t)
	role, k := seedCatalog(t, store)

	results, err := store.SyncRolePermissions(context.Background(), Assignments{role.Key: {k["A"], k["A"], k["B"]}})
	require.NoError(t, err)
	assert.Equal(t, []string{k["A"], k["B"]}, results[0].Added)
	assert.Equal(t, []string{k["A"], k["B"]}, rolePermissionKeys(t, store, role.Key))
}

func TestSyncRolePermissions_NullVersusEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	role, k := seedCatalog(t, store)

	_, err := store.SyncRolePermissions(ctx, Assignments{role.Key: {k["A"], k["B"]}})
	require.NoError(t, err)

	var untouched Assignments
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprintf(`{%q: null}`, role.Key)), &untouched))
	_, err = store.SyncRolePermissions(ctx, untouched)
	require.NoError(t, err)
	assert.Equal(t, []string{k["A"], k["B"]}, rolePermissionKeys(t, store, role.Key))

	var cleared Assignments
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprintf(`{%q: []}`, role.Key)), &cleared))
	results, err := store.SyncRolePermissions(ctx, cleared)
	require.NoError(t, err)
	assert.Equal(t, []string{k["A"], k["B"]}, results[0].Removed)
	assert.Empty(t, rolePermissionKeys(t, store, role.Key))
}

func TestSyncRolePermissions_NullStillRequiresPrincipal(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.SyncRolePermissions(context.Background(), Assignments{"09_ghost": nil})
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))
	assert.Equal(t, "ROLE::09_ghost not found", apierr.Message(err))
}

func TestSyncRolePermissions_MissingKeysListed(t *testing.T) {
	store, _ := newTestStore(t)
	role, k := seedCatalog(t, store)

	_, err := store.SyncRolePermissions(context.Background(), Assignments{role.Key: {k["A"], "x_one", "x_two"}})
	require.Error(t, err)

	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, "Permission Key::x_one,x_two does not exist!", apiErr.Message)
	assert.Equal(t, map[string][]string{"missing_keys": {"x_one", "x_two"}}, apiErr.Data)
	assert.Empty(t, rolePermissionKeys(t, store, role.Key))
}

func TestSyncRolePermissions_AtomicAcrossPrincipals(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	admin, k := seedCatalog(t, store)
	staff, err := store.CreateRole(ctx, RoleInput{Name: "Staff"})
	require.NoError(t, err)

	_, err = store.SyncRolePermissions(ctx, Assignments{
		admin.Key: {k["A"]},
		staff.Key: {k["B"]},
	})
	require.NoError(t, err)

	// admin sorts first and succeeds; the staff entry fails and rolls it back
	_, err = store.SyncRolePermissions(ctx, Assignments{
		admin.Key: {k["C"], k["D"], k["E"]},
		staff.Key: {"missing"},
	})
	require.Error(t, err)
	assert.Equal(t, []string{k["A"]}, rolePermissionKeys(t, store, admin.Key))
	assert.Equal(t, []string{k["B"]}, rolePermissionKeys(t, store, staff.Key))

	_, err = store.SyncRolePermissions(ctx, Assignments{
		admin.Key:  {k["C"]},
		"99_ghost": {k["A"]},
	})
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))
	assert.Equal(t, []string{k["A"]}, rolePermissionKeys(t, store, admin.Key))
}

func TestSyncUserRoles_PrincipalForms(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	admin, err := store.CreateRole(ctx, RoleInput{Name: "Admin"})
	require.NoError(t, err)
	staff, err := store.CreateRole(ctx, RoleInput{Name: "Staff"})
	require.NoError(t, err)
	manager, err := store.CreateRole(ctx, RoleInput{Name: "Manager"})
	require.NoError(t, err)

	first := createUser(t, db, "owner1")
	second := createUser(t, db, "cashier")
	third := createUser(t, db, "barista")

	_, err = store.SyncUserRoles(ctx, Assignments{
		fmt.Sprintf("user:%d", first): {admin.Key},
		fmt.Sprintf("%d", second):     {staff.Key},
		"barista":                     {manager.Key, staff.Key},
	})
	require.NoError(t, err)

	for id, want := range map[int64][]string{
		first:  {admin.Key},
		second: {staff.Key},
		third:  {staff.Key, manager.Key},
	} {
		got, err := store.UserRoleKeys(ctx, id)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, got)
	}
}

func TestSyncUserRoles_NumericUsername(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	admin, err := store.CreateRole(ctx, RoleInput{Name: "Admin"})
	require.NoError(t, err)
	staff, err := store.CreateRole(ctx, RoleInput{Name: "Staff"})
	require.NoError(t, err)
	manager, err := store.CreateRole(ctx, RoleInput{Name: "Manager"})
	require.NoError(t, err)

	owner := createUser(t, db, "owner1")
	now := time.Now().UTC()
	_, err = db.Exec(`
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, 123456, "veteran", "x", now, now)
	require.NoError(t, err)
	numeric := createUser(t, db, "123456")
	require.NotEqual(t, int64(123456), numeric)

	_, err = store.SyncUserRoles(ctx, Assignments{
		"123456":                  {staff.Key},
		"user:123456":             {admin.Key},
		fmt.Sprintf("%d", owner): {manager.Key},
	})
	require.NoError(t, err)

	for id, want := range map[int64][]string{
		numeric: {staff.Key},
		123456:  {admin.Key},
		owner:   {manager.Key},
	} {
		got, err := store.UserRoleKeys(ctx, id)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, got, "user %d", id)
	}
}

func TestSyncUserRoles_Failures(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	createUser(t, db, "owner1")

	_, err := store.SyncUserRoles(ctx, Assignments{"nobody": {}})
	require.Error(t, err)
	assert.Equal(t, "USER::nobody not found", apierr.Message(err))

	_, err = store.SyncUserRoles(ctx, Assignments{"owner1": {"01_admin"}})
	require.Error(t, err)
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, "Role Key::01_admin does not exist!", apierr.Message(err))
}

func TestSyncRolePermissions_Metrics(t *testing.T) {
	db := database.NewTestDB(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := NewStore(db, metrics)
	role, k := seedCatalog(t, store)

	_, err := store.SyncRolePermissions(context.Background(), Assignments{role.Key: {k["A"], k["B"]}})
	require.NoError(t, err)
	_, err = store.SyncRolePermissions(context.Background(), Assignments{role.Key: {"missing"}})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecentralizeTotal.WithLabelValues(KindRolePermissions, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecentralizeTotal.WithLabelValues(KindRolePermissions, "invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AssignmentEdgesTotal.WithLabelValues(KindRolePermissions, "add")))
}

func TestDiff(t *testing.T) {
	added, removed, unchanged := diff([]string{"c", "a", "b"}, []string{"d", "b", "c"})
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"a"}, removed)
	assert.Equal(t, []string{"b", "c"}, unchanged)

	added, removed, unchanged = diff(nil, nil)
	assert.Empty(t, added)
	assert.Empty(t, removed)
	assert.Empty(t, unchanged)
}
