package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "PORT", "STORAGE_MODE", "SMARTPLANNING_CONFIG", "STEP_TIMEOUT",
		"CORRECTION_MAX_ITERATIONS", "USE_REFERENCE_DATA", "REFERENCE_DATA_PATH",
		"LLM_PROVIDER", "ARTIFACT_S3_USE_SSL", "ARTIFACT_S3_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, StorageLocal, cfg.Storage.Mode)
	assert.False(t, cfg.Storage.Artifact.UseSSL)
	assert.Equal(t, "heuristic", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.Correction.MaxIterations)
	assert.Equal(t, 120*time.Second, cfg.Correction.StepTimeout)
	assert.Equal(t, 5, cfg.Agent.ChatHistoryPairs)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "9000")
	t.Setenv("STEP_TIMEOUT", "45")
	t.Setenv("CORRECTION_MAX_ITERATIONS", "3")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, StorageS3, cfg.Storage.Mode)
	assert.True(t, cfg.Storage.Artifact.UseSSL)
	assert.Equal(t, 45*time.Second, cfg.Correction.StepTimeout)
	assert.Equal(t, 3, cfg.Correction.MaxIterations)
}

func TestFromEnvYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "smartplanning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  rag_top_k: 3
  sp_retry_delay: 250ms
correction:
  max_iterations: 4
  fix_rules_path: rules.md
`), 0o644))
	t.Setenv("SMARTPLANNING_CONFIG", path)
	t.Setenv("CORRECTION_MAX_ITERATIONS", "6")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Agent.TopK)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.RetryDelay)
	assert.Equal(t, 2, cfg.Agent.RAGHistoryPairs)
	assert.Equal(t, 6, cfg.Correction.MaxIterations, "environment wins over the file")
	assert.Equal(t, "rules.md", cfg.Correction.FixRulesPath)
}

func TestFromEnvReferenceDataNeedsPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_REFERENCE_DATA", "true")

	_, err := FromEnv()
	require.Error(t, err)
}
