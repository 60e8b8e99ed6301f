package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":8081", cfg.Server.AdminAddr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yaml := `
server:
  addr: ":9090"
gateway:
  cors_origins: "https://a.test, https://b.test"
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr, "yaml value applies when env is unset")
	assert.Equal(t, "warn", cfg.Logging.Level, "env beats yaml")
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Origins())
}

func TestValidateBackends(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("STORAGE_BACKEND", "postgres")
	_, err := LoadFromPath(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err, "postgres without DATABASE_URL must fail")

	t.Setenv("DATABASE_URL", "postgres://localhost/marketplace")
	cfg, err := LoadFromPath(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Backend)

	t.Setenv("STORAGE_BACKEND", "bogus")
	_, err = LoadFromPath(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err, "unknown backend must fail")
}
