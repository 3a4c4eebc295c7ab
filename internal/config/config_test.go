package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jward/injectpoint/internal/point"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "injectpoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// unsetForTest clears key for the duration of the test and restores it after.
func unsetForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"INJECTPOINT_DB", "INJECTPOINT_FORMAT", "INJECTPOINT_MODE", "INJECTPOINT_LOG_LEVEL"} {
		unsetForTest(t, k)
	}

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, ".injectpoint/index.db", cfg.DB)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, point.MatchAll, cfg.CollectMode())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Development)
	assert.Empty(t, cfg.DynamicPrefixes)
}

func TestLoad_File(t *testing.T) {
	unsetForTest(t, "INJECTPOINT_MODE")
	unsetForTest(t, "INJECTPOINT_DB")

	path := writeConfig(t, `
db: /tmp/classes.db
format: json
mode: last
dynamic_prefixes:
  - "@Tr:"
  - "@Expr("
log:
  level: debug
  development: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/classes.db", cfg.DB)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, point.MatchLast, cfg.CollectMode())
	assert.Equal(t, []string{"@Tr:", "@Expr("}, cfg.DynamicPrefixes)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("INJECTPOINT_MODE", "first")
	t.Setenv("INJECTPOINT_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "mode: last\n"))
	require.NoError(t, err)
	assert.Equal(t, point.MatchFirst, cfg.CollectMode())
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_DotEnvOverlay(t *testing.T) {
	unsetForTest(t, "INJECTPOINT_FORMAT")

	path := writeConfig(t, "format: text\n")
	env := filepath.Join(filepath.Dir(path), ".env")
	require.NoError(t, os.WriteFile(env, []byte("INJECTPOINT_FORMAT=yaml\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "yaml", cfg.Format)
}

func TestLoad_Errors(t *testing.T) {
	unsetForTest(t, "INJECTPOINT_FORMAT")
	unsetForTest(t, "INJECTPOINT_MODE")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "format: xml\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")

	_, err = Load(writeConfig(t, "mode: sometimes\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

// =============================================================================
// Logger
// =============================================================================

func TestLogger_Level(t *testing.T) {
	t.Parallel()

	cfg := &Config{Format: "text", Mode: "all", Log: LogConfig{Level: "warn"}}
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	cfg.Log.Level = "loud"
	_, err = cfg.Logger()
	require.Error(t, err)
}

func TestEnsureDBDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "db")
	cfg := &Config{DB: filepath.Join(dir, "index.db")}
	require.NoError(t, cfg.EnsureDBDir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
