package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/evaluator"
	"github.com/joelkehle/kyc-agency/internal/validation"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "kyc.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, "uploads", cfg.Server.UploadDir)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 2.0, cfg.Anthropic.RequestsPerSecond, 0.001)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, 120*time.Second, cfg.Pipeline.StageTimeout())
	assert.Equal(t, validation.DefaultThresholds(), cfg.Validation.Thresholds())
	assert.True(t, cfg.Validation.UseLLM)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
	for _, st := range evaluator.Stages {
		assert.True(t, cfg.EnabledStages()[st], st)
	}
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  path: /var/lib/kyc/cases.db
log:
  level: debug
  format: console
validation:
  address_threshold: 0.9
stages:
  sanction_screening:
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/kyc/cases.db", cfg.Store.Path)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 0.9, cfg.Validation.AddressThreshold, 0.001)
	// Defaults still apply for unset values
	assert.InDelta(t, validation.DefaultThresholds().Name, cfg.Validation.NameThreshold, 0.001)

	enabled := cfg.EnabledStages()
	assert.False(t, enabled[evaluator.StageSanctionScreening])
	assert.True(t, enabled[evaluator.StageCompliance])
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: debug\n"), 0644))

	t.Setenv("KYC_LOG_LEVEL", "warn")
	t.Setenv("KYC_PIPELINE_CONCURRENCY", "8")
	t.Setenv("KYC_TELEMETRY_OTLP_ENDPOINT", "localhost:4318")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.OTLPEndpoint)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Store.Path = " "
	cfg.Pipeline.Concurrency = 0
	cfg.Validation.EmployerThreshold = 1.5

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.path is required")
	assert.Contains(t, err.Error(), "pipeline.concurrency must be at least 1")
	assert.Contains(t, err.Error(), "validation.employer_threshold")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}
