package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchrl/metatrain/internal/config"
)

func parseFlags(t *testing.T, args ...string) (*cobra.Command, *config.Config) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cmd := &cobra.Command{Use: "metatrain"}
	BindFlags(cmd, cfg)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, cfg
}

// TestBindFlagsDefaults validates that parsing no flags leaves the built-in
// defaults untouched.
func TestBindFlagsDefaults(t *testing.T) {
	_, cfg := parseFlags(t)

	assert.Equal(t, "run", cfg.RunName)
	assert.Equal(t, int64(1), cfg.Seed)
	assert.Equal(t, "onpolicy", cfg.Algorithm)
	assert.True(t, cfg.Checkpoint)
	assert.True(t, cfg.Tracking)
	assert.False(t, cfg.Resume)
}

// TestBindFlagsOverrides validates that set flags land on the config.
func TestBindFlagsOverrides(t *testing.T) {
	_, cfg := parseFlags(t,
		"--run-name", "reach",
		"--seed", "42",
		"--algorithm", "offpolicy",
		"--total-steps", "5000",
		"--buffer-capacity", "2048",
		"--learning-rate", "0.001",
		"--resume",
		"-v",
	)

	assert.Equal(t, "reach", cfg.RunName)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, "offpolicy", cfg.Algorithm)
	assert.Equal(t, 5000, cfg.TotalSteps)
	assert.Equal(t, 2048, cfg.BufferCapacity)
	assert.Equal(t, 0.001, cfg.LearningRate)
	assert.True(t, cfg.Resume)
	assert.True(t, cfg.Verbose)
}

// TestValidateFlags covers flag combination rules in one table.
func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name: "defaults are valid",
		},
		{
			name:    "unknown algorithm",
			args:    []string{"--algorithm", "bandit"},
			wantErr: "--algorithm",
		},
		{
			name:    "checkpoint interval not a rollout multiple",
			args:    []string{"--checkpoint-interval", "10000", "--rollout-steps", "96"},
			wantErr: "--checkpoint-interval",
		},
		{
			name: "interval rule does not apply to replay families",
			args: []string{"--algorithm", "offpolicy", "--checkpoint-interval", "10000", "--rollout-steps", "96"},
		},
		{
			name: "interval rule does not apply without checkpointing",
			args: []string{"--no-checkpoint", "--checkpoint-interval", "10000", "--rollout-steps", "96"},
		},
		{
			name:    "resume without checkpointing",
			args:    []string{"--resume", "--no-checkpoint"},
			wantErr: "--resume",
		},
		{
			name:    "nonpositive total steps",
			args:    []string{"--total-steps", "0"},
			wantErr: "--total-steps",
		},
		{
			name:    "nonpositive num envs",
			args:    []string{"--num-envs", "-1"},
			wantErr: "--num-envs",
		},
		{
			name:    "missing explicit config file",
			args:    []string{"--config", "/nonexistent/metatrain.conf"},
			wantErr: "--config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, cfg := parseFlags(t, tt.args...)
			err := ValidateFlags(cmd, cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestValidateFlagsNegation validates the --no-checkpoint and --no-tracking
// negation flags via Changed detection.
func TestValidateFlagsNegation(t *testing.T) {
	cmd, cfg := parseFlags(t, "--no-checkpoint", "--no-tracking")
	require.NoError(t, ValidateFlags(cmd, cfg))

	assert.False(t, cfg.Checkpoint)
	assert.False(t, cfg.Tracking)
}

// TestValidateFlagsExistingConfig validates that a present --config passes.
func TestValidateFlagsExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metatrain.conf")
	require.NoError(t, os.WriteFile(path, []byte("SEED=9\n"), 0644))

	cmd, cfg := parseFlags(t, "--config", path)
	assert.NoError(t, ValidateFlags(cmd, cfg))
	assert.Equal(t, path, cfg.ConfigFile)
}
