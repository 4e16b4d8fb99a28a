package seed

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/database"
	"github.com/platinummonkey/roomdesk/pkg/observability"
	"github.com/platinummonkey/roomdesk/pkg/rbac"
)

func newTestSeeder(t *testing.T) (*Seeder, *rbac.Store, *auth.UserStore) {
	t.Helper()
	db := database.NewTestDB(t)
	users := auth.NewUserStore(db)
	accounts, err := auth.NewService(users, auth.NewSQLTokenStore(db), auth.Config{BcryptCost: 4}, nil)
	require.NoError(t, err)
	store := rbac.NewStore(db, nil)
	logger := observability.NewLogger(observability.InfoLevel, &bytes.Buffer{})
	return NewSeeder(store, users, accounts, logger), store, users
}

func TestDefault(t *testing.T) {
	f, err := Default()
	require.NoError(t, err)

	names := make([]string, 0, len(f.Roles))
	for _, r := range f.Roles {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Admin", "Staff", "Manager", "Guest"}, names)
	assert.Nil(t, f.Permissions[4].RelatedResource, "Manage Revenue has no related resource")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "roles: [", "failed to parse"},
		{"unnamed permission", "permissions:\n  - related_resource: rooms\n", "name is required"},
		{"unknown permission", "roles:\n  - name: Admin\n    permissions: [Nope]\n", `unknown permission "Nope"`},
		{"unknown role", "users:\n  - username: owner1\n    password: secret\n    roles: [Nope]\n", `unknown role "Nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - name: Admin\n"), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Roles, 1)
	assert.Nil(t, f.Roles[0].Permissions)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApply_DefaultSeed(t *testing.T) {
	seeder, store, _ := newTestSeeder(t)
	ctx := context.Background()

	f, err := Default()
	require.NoError(t, err)

	report, err := seeder.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 11, report.PermissionsCreated)
	assert.Equal(t, 4, report.RolesCreated)
	assert.Equal(t, 11+4+6, report.EdgesAdded)

	admin, err := store.GetRoleByName(ctx, "Admin")
	require.NoError(t, err)
	assert.Equal(t, "01_admin", admin.Key)

	perms, err := store.PermissionsForRoles(ctx, []string{"02_staff"})
	require.NoError(t, err)
	var keys []string
	for _, p := range perms {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"03_manage_customers", "04_manage_rooms", "09_manage_bookings", "011_manage_songs"}, keys)

	// second run is a no-op
	report, err = seeder.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Report{}, *report)
}

func TestApply_UsersAndReconcile(t *testing.T) {
	seeder, store, users := newTestSeeder(t)
	ctx := context.Background()

	first, err := Parse([]byte(`
permissions:
  - name: Manage Rooms
    related_resource: rooms
  - name: Manage Songs
roles:
  - name: Staff
    permissions: [Manage Rooms, Manage Songs]
users:
  - username: frontdesk
    password: secret123
    roles: [Staff]
`))
	require.NoError(t, err)

	report, err := seeder.Apply(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, report.UsersCreated)

	user, err := users.GetByUsername(ctx, "frontdesk")
	require.NoError(t, err)
	roleKeys, err := store.UserRoleKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"01_staff"}, roleKeys)

	checker := rbac.NewPermissionChecker(store, nil)
	allowed, err := checker.CanManage(ctx, user.ID, "rooms")
	require.NoError(t, err)
	assert.True(t, allowed)

	second, err := Parse([]byte(`
permissions:
  - name: Manage Rooms
  - name: Manage Songs
    related_resource: songs
roles:
  - name: Staff
    permissions: [Manage Songs]
users:
  - username: frontdesk
    password: ignored1
`))
	require.NoError(t, err)

	report, err = seeder.Apply(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 0, report.UsersCreated)
	assert.Equal(t, 1, report.EdgesRemoved)

	// users without a roles list keep their roles
	roleKeys, err = store.UserRoleKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"01_staff"}, roleKeys)

	allowed, err = checker.CanManage(ctx, user.ID, "rooms")
	require.NoError(t, err)
	assert.False(t, allowed)
	allowed, err = checker.CanManage(ctx, user.ID, "songs")
	require.NoError(t, err)
	assert.True(t, allowed)

	rooms, err := store.GetPermissionByName(ctx, "Manage Rooms")
	require.NoError(t, err)
	assert.Nil(t, rooms.RelatedResource)
}

func TestApply_InvalidUser(t *testing.T) {
	seeder, _, _ := newTestSeeder(t)

	f, err := Parse([]byte("users:\n  - username: abc\n    password: x\n"))
	require.NoError(t, err)

	_, err = seeder.Apply(context.Background(), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to create user "abc"`)
}
