package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}

func TestLoad_LayersBaseEnvAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  port: ":9000"
db:
  host: db.internal
  password: ${DB_SECRET}
workflow:
  lock_backend: local
  storage: postgres
outbox:
  interval: 2s
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: staging-db
workflow:
  auto_advance: true
`)
	writeFile(t, dir, "secrets.env", "DB_SECRET='s3cr3t'\n# comment\n")

	cfg, err := Load("staging", dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, "staging-db", cfg.DB.Host)
	assert.Equal(t, "s3cr3t", cfg.DB.Password)
	assert.True(t, cfg.Workflow.AutoAdvance)
	assert.Equal(t, 2*time.Second, cfg.Outbox.Interval)
	// untouched keys keep their defaults
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  host: from-file\n")

	t.Setenv("DB_HOST", "from-env")
	t.Setenv("WORKFLOW_LOCK_BACKEND", "redis")
	t.Setenv("OUTBOX_MAX_RETRIES", "9")

	cfg, err := Load("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.DB.Host)
	assert.Equal(t, "redis", cfg.Workflow.LockBackend)
	assert.Equal(t, 9, cfg.Outbox.MaxRetries)
}

func TestLoad_UnresolvedPlaceholdersAreUnset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "jwt:\n  secret: ${JWT_SECRET}\nadmin:\n  key_hash: ${ADMIN_KEY_HASH}\n")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("ADMIN_KEY_HASH", "")
	require.NoError(t, os.Unsetenv("ADMIN_KEY_HASH"))

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Empty(t, cfg.Admin.KeyHash)
}

func TestLoad_RejectsUnknownLockBackend(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "workflow:\n  lock_backend: zookeeper\n")

	_, err := Load("", dir)
	assert.ErrorContains(t, err, "lock_backend")
}

func TestLoad_RejectsAutoAdvanceWithMemoryStorage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "workflow:\n  storage: memory\n  auto_advance: true\n")

	_, err := Load("", dir)
	assert.ErrorContains(t, err, "auto_advance")
}

func TestLoad_MissingBaseFile(t *testing.T) {
	_, err := Load("local", t.TempDir())
	assert.ErrorContains(t, err, "base.yaml")
}

func TestMergeMapsIsRecursive(t *testing.T) {
	dst := map[string]interface{}{"db": map[string]interface{}{"host": "a", "port": 1}}
	src := map[string]interface{}{"db": map[string]interface{}{"host": "b"}}

	merged := mergeMaps(dst, src)
	db := merged["db"].(map[string]interface{})
	assert.Equal(t, "b", db["host"])
	assert.Equal(t, 1, db["port"])
}
