package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "roomdesk.yaml")
	body := "database:\n  driver: sqlite3\n  dsn: " + filepath.Join(dir, "roomdesk.db") + "\n" +
		"auth:\n  bcrypt_cost: 4\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "roomdesk ")
}

func TestMigrateAndSeed(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "--config", path, "migrate", "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")

	out, err = execute(t, "--config", path, "migrate", "--status=false")
	require.NoError(t, err)
	assert.NotContains(t, out, "pending")

	out, err = execute(t, "--config", path, "seed", "--admin-username", "owner1", "--admin-password", "secret123")
	require.NoError(t, err)
	assert.Contains(t, out, "permissions created: 11")
	assert.Contains(t, out, "users created: 1")

	out, err = execute(t, "--config", path, "seed", "--admin-username", "owner1", "--admin-password", "secret123")
	require.NoError(t, err)
	assert.Contains(t, out, "permissions created: 0")
	assert.Contains(t, out, "assignments added: 0, removed: 0")
}

func TestSeedRequiresAdminPassword(t *testing.T) {
	path := writeConfig(t)

	_, err := execute(t, "--config", path, "seed", "--admin-username", "owner1", "--admin-password", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--admin-password")
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("ROOMDESK_DATABASE_DRIVER", "oracle")

	_, err := execute(t, "--config", writeConfig(t), "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
