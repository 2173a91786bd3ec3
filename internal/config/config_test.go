package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "dispense.db", cfg.Store.Path)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "https://rxnav.nlm.nih.gov/REST", cfg.RxNorm.BaseURL)
	assert.Equal(t, 20.0, cfg.RxNorm.RequestsPerS)
	assert.Equal(t, "https://api.fda.gov/drug/ndc.json", cfg.NDC.BaseURL)
	assert.Equal(t, 1024, cfg.Cache.MaxItems)
	assert.Equal(t, 3, cfg.Selection.MaxDistinctPackages)
	assert.Equal(t, 50.0, cfg.Selection.MaxOverfillPercent)
	assert.True(t, cfg.Selection.PreferFewerPackages)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrent)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/dispense
anthropic:
  key: test-key
selection:
  max_overfill_percent: 25
review:
  webhook_url: https://hooks.example.com/review
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/dispense", cfg.Store.DatabaseURL)
	assert.Equal(t, "test-key", cfg.Anthropic.Key)
	assert.Equal(t, 25.0, cfg.Selection.MaxOverfillPercent)
	assert.Equal(t, "https://hooks.example.com/review", cfg.Review.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset values keep defaults.
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
}

func TestLoad_EnvOverride(t *testing.T) {
	inTempDir(t)
	t.Setenv("DISPENSE_STORE_DRIVER", "postgres")
	t.Setenv("DISPENSE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nonsense", Format: "json"})
	require.Error(t, err)
}
