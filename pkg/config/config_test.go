package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 15, cfg.BatchIntervalMinutes)
	assert.Equal(t, 2, cfg.PromotionThresholdRepos)
	assert.Equal(t, "template", cfg.Generator.Provider)

	assert.Equal(t, 1, cfg.MinEvidenceFor("command_failure"))
	assert.Equal(t, 2, cfg.MinEvidenceFor("user_correction"))
	assert.Equal(t, 3, cfg.MinEvidenceFor("repetition"))
	assert.Equal(t, 1, cfg.MinEvidenceFor("version_issue"))

	// Unknown keys fall back to 1.
	assert.Equal(t, 1, cfg.MinEvidenceFor("unknown_signal"))

	assert.NotEmpty(t, cfg.Patterns.Correction)
	assert.NotEmpty(t, cfg.ScopeIndicators.Global)
	assert.NotEmpty(t, cfg.ForceProjectPatterns)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	v := viper.New()
	v.Set("batch_interval_minutes", 30)
	v.Set("promotion_threshold_repos", 3)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.BatchIntervalMinutes)
	assert.Equal(t, 3, cfg.PromotionThresholdRepos)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.MinEvidenceFor("user_correction"))
	assert.NotEmpty(t, cfg.Patterns.FailureStderr)
}

func TestLoadValidation(t *testing.T) {
	v := viper.New()
	v.Set("batch_interval_minutes", -1)
	_, err := Load(v)
	assert.Error(t, err)

	v = viper.New()
	v.Set("promotion_threshold_repos", 0)
	_, err = Load(v)
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "batch_interval_minutes")

	// A second write leaves the file alone.
	require.NoError(t, os.WriteFile(path, []byte("batch_interval_minutes: 99\n"), 0o644))
	require.NoError(t, WriteDefault(path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "99")
}
