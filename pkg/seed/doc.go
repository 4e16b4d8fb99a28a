// Package seed applies declarative YAML descriptions of roles, permissions
// and users.
//
// Entries are matched by name, so applying the same file twice is a no-op.
// Role and user assignments go through rbac.Store's decentralize operations
// and therefore replace the full set for every listed role or user.
package seed
