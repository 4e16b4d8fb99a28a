package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/observability"
	"github.com/platinummonkey/roomdesk/pkg/rbac"
)

//go:embed default.yaml
var defaultSeed []byte

// File is a declarative description of roles, permissions and users.
// Assignments reference entries by name.
type File struct {
	Permissions []Permission `yaml:"permissions"`
	Roles       []Role       `yaml:"roles"`
	Users       []User       `yaml:"users"`
}

// Permission is a permission entry
type Permission struct {
	Name            string  `yaml:"name"`
	RelatedResource *string `yaml:"related_resource"`
}

// Role is a role entry. A missing permissions list leaves the role's
// assignments alone; an empty one clears them.
type Role struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// User is a user entry. Existing users keep their password.
type User struct {
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
}

// Default returns the built-in seed
func Default() (*File, error) {
	return Parse(defaultSeed)
}

// Load reads a seed file from disk
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates seed YAML
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that names are present and every reference resolves
// within the file
func (f *File) Validate() error {
	perms := make(map[string]bool, len(f.Permissions))
	for i, p := range f.Permissions {
		if p.Name == "" {
			return fmt.Errorf("permissions[%d]: name is required", i)
		}
		perms[p.Name] = true
	}

	roles := make(map[string]bool, len(f.Roles))
	for i, r := range f.Roles {
		if r.Name == "" {
			return fmt.Errorf("roles[%d]: name is required", i)
		}
		roles[r.Name] = true
		for _, name := range r.Permissions {
			if !perms[name] {
				return fmt.Errorf("role %q references unknown permission %q", r.Name, name)
			}
		}
	}

	for i, u := range f.Users {
		if u.Username == "" {
			return fmt.Errorf("users[%d]: username is required", i)
		}
		for _, name := range u.Roles {
			if !roles[name] {
				return fmt.Errorf("user %q references unknown role %q", u.Username, name)
			}
		}
	}

	return nil
}

// Report counts what Apply did
type Report struct {
	PermissionsCreated int
	RolesCreated       int
	UsersCreated       int
	EdgesAdded         int
	EdgesRemoved       int
}

// Seeder applies seed files through the same store paths the API uses
type Seeder struct {
	store    *rbac.Store
	users    *auth.UserStore
	accounts *auth.Service
	logger   *observability.Logger
}

// NewSeeder creates a seeder
func NewSeeder(store *rbac.Store, users *auth.UserStore, accounts *auth.Service, logger *observability.Logger) *Seeder {
	return &Seeder{
		store:    store,
		users:    users,
		accounts: accounts,
		logger:   logger,
	}
}

// Apply creates missing entries and reconciles assignments. Running it twice
// changes nothing the second time.
func (s *Seeder) Apply(ctx context.Context, f *File) (*Report, error) {
	report := &Report{}

	permKeys := make(map[string]string, len(f.Permissions))
	for _, p := range f.Permissions {
		perm, created, err := s.ensurePermission(ctx, p)
		if err != nil {
			return report, err
		}
		if created {
			report.PermissionsCreated++
		}
		permKeys[p.Name] = perm.Key
	}

	roleKeys := make(map[string]string, len(f.Roles))
	grants := rbac.Assignments{}
	for _, r := range f.Roles {
		role, err := s.store.GetRoleByName(ctx, r.Name)
		if err != nil {
			return report, err
		}
		if role == nil {
			if role, err = s.store.CreateRole(ctx, rbac.RoleInput{Name: r.Name}); err != nil {
				return report, fmt.Errorf("failed to create role %q: %w", r.Name, err)
			}
			report.RolesCreated++
		}
		roleKeys[r.Name] = role.Key

		if r.Permissions != nil {
			grants[role.Key] = resolve(r.Permissions, permKeys)
		}
	}
	if err := s.sync(ctx, report, s.store.SyncRolePermissions, grants); err != nil {
		return report, err
	}

	memberships := rbac.Assignments{}
	for _, u := range f.Users {
		user, created, err := s.ensureUser(ctx, u)
		if err != nil {
			return report, err
		}
		if created {
			report.UsersCreated++
		}
		if u.Roles != nil {
			memberships["user:"+strconv.FormatInt(user.ID, 10)] = resolve(u.Roles, roleKeys)
		}
	}
	if err := s.sync(ctx, report, s.store.SyncUserRoles, memberships); err != nil {
		return report, err
	}

	s.logger.WithFields(map[string]interface{}{
		"permissions_created": report.PermissionsCreated,
		"roles_created":       report.RolesCreated,
		"users_created":       report.UsersCreated,
		"edges_added":         report.EdgesAdded,
		"edges_removed":       report.EdgesRemoved,
	}).Info("seed applied")

	return report, nil
}

func (s *Seeder) ensurePermission(ctx context.Context, p Permission) (*rbac.Permission, bool, error) {
	perm, err := s.store.GetPermissionByName(ctx, p.Name)
	if err != nil {
		return nil, false, err
	}
	if perm == nil {
		perm, err = s.store.CreatePermission(ctx, rbac.PermissionInput{Name: p.Name, RelatedResource: p.RelatedResource})
		if err != nil {
			return nil, false, fmt.Errorf("failed to create permission %q: %w", p.Name, err)
		}
		return perm, true, nil
	}

	if !sameResource(perm.RelatedResource, p.RelatedResource) {
		perm, err = s.store.UpdatePermission(ctx, perm.ID, rbac.PermissionInput{Name: p.Name, RelatedResource: p.RelatedResource})
		if err != nil {
			return nil, false, fmt.Errorf("failed to update permission %q: %w", p.Name, err)
		}
	}
	return perm, false, nil
}

func (s *Seeder) ensureUser(ctx context.Context, u User) (*auth.User, bool, error) {
	user, err := s.users.GetByUsername(ctx, u.Username)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, false, err
	}

	user, err = s.accounts.Register(ctx, auth.RegisterRequest{Username: u.Username, Password: u.Password})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user %q: %w", u.Username, err)
	}
	return user, true, nil
}

type syncFunc func(ctx context.Context, assignments rbac.Assignments) ([]rbac.SyncResult, error)

func (s *Seeder) sync(ctx context.Context, report *Report, apply syncFunc, assignments rbac.Assignments) error {
	if len(assignments) == 0 {
		return nil
	}
	results, err := apply(ctx, assignments)
	if err != nil {
		return err
	}
	for _, r := range results {
		report.EdgesAdded += len(r.Added)
		report.EdgesRemoved += len(r.Removed)
	}
	return nil
}

func resolve(names []string, keys map[string]string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, keys[n])
	}
	return out
}

func sameResource(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && (b == nil || *b == "")
	}
	return *a == *b
}
