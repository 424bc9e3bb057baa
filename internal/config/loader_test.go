package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadFile validates dotenv parsing, whitelist enforcement, and comment
// handling.
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "metatrain.conf", `
# training run settings
RUN_NAME=reach_mt10
SEED=42
TOTAL_STEPS=200000
NOT_A_REAL_KEY=ignored
GAMMA=0.95
`)

	m, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "reach_mt10", m["RUN_NAME"])
	assert.Equal(t, "42", m["SEED"])
	assert.Equal(t, "200000", m["TOTAL_STEPS"])
	assert.Equal(t, "0.95", m["GAMMA"])
	assert.NotContains(t, m, "NOT_A_REAL_KEY")
}

// TestLoadFileMissing validates that a missing file is reported.
func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Error(t, err)
}

// TestLoadWithPrecedence validates that later layers override earlier ones
// and that CLI overrides win over every file.
func TestLoadWithPrecedence(t *testing.T) {
	dir := t.TempDir()

	global := writeConfig(t, dir, "global.conf", "SEED=1\nTOTAL_STEPS=50000\nGAMMA=0.9\n")
	project := writeConfig(t, dir, "project.conf", "SEED=2\nRUN_NAME=project_run\n")
	explicit := writeConfig(t, dir, "explicit.conf", "SEED=3\n")

	cfg, err := LoadWithPrecedence(global, project, explicit, map[string]string{
		"TOTAL_STEPS": "99",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), cfg.Seed, "explicit file overrides project and global")
	assert.Equal(t, "project_run", cfg.RunName, "project layer survives when not overridden")
	assert.Equal(t, 99, cfg.TotalSteps, "CLI override wins over all files")
	assert.Equal(t, 0.9, cfg.Gamma, "global layer survives when not overridden")
	assert.Equal(t, "mean_success_rate", cfg.BestCheckpointMetric, "defaults survive")
}

// TestLoadWithPrecedenceMissingFiles validates that missing global/project
// files are tolerated but a missing explicit file is fatal.
func TestLoadWithPrecedenceMissingFiles(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadWithPrecedence(
		filepath.Join(dir, "no-global.conf"),
		filepath.Join(dir, "no-project.conf"),
		"",
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig(), cfg)

	_, err = LoadWithPrecedence("", "", filepath.Join(dir, "no-explicit.conf"), nil)
	assert.Error(t, err)
}

// TestApplyMapToConfig validates type coercion and the silent-skip rule for
// malformed numerics.
func TestApplyMapToConfig(t *testing.T) {
	tests := []struct {
		name  string
		vars  map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "booleans accept true/1/yes",
			vars: map[string]string{"CHECKPOINT": "no", "RESUME": "yes", "TRACKING": "1", "VERBOSE": "true"},
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Checkpoint)
				assert.True(t, cfg.Resume)
				assert.True(t, cfg.Tracking)
				assert.True(t, cfg.Verbose)
			},
		},
		{
			name: "malformed int preserves previous value",
			vars: map[string]string{"TOTAL_STEPS": "a-lot"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, NewDefaultConfig().TotalSteps, cfg.TotalSteps)
			},
		},
		{
			name: "floats parse",
			vars: map[string]string{"LEARNING_RATE": "1e-3", "POLYAK_TAU": "0.01"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 1e-3, cfg.LearningRate)
				assert.Equal(t, 0.01, cfg.PolyakTau)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			ApplyMapToConfig(cfg, tt.vars)
			tt.check(t, cfg)
		})
	}
}
