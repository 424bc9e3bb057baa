package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benchrl/metatrain/internal/cli"
	"github.com/benchrl/metatrain/internal/config"
	"github.com/benchrl/metatrain/internal/logging"
	"github.com/benchrl/metatrain/internal/run"
	sighandler "github.com/benchrl/metatrain/internal/signal"
)

// version vars injected via ldflags at build time
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cfg := config.NewDefaultConfig()

	rootCmd := &cobra.Command{
		Use:     "metatrain",
		Short:   "Resumable multi-task RL training runs",
		Long:    "Metatrain orchestrates checkpointed, exactly-resumable reinforcement learning training runs.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Validate flags after parsing
			if err := cli.ValidateFlags(cmd, cfg); err != nil {
				return err
			}
			return runTraining(cmd, cfg)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Bind all CLI flags to the config
	cli.BindFlags(rootCmd, cfg)

	// Set custom help template
	cli.SetCustomHelp(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildCLIOverrides creates a map of CLI flag overrides from the config.
// Uses cmd.Flags().Changed() to only include flags explicitly set by the user,
// ensuring config file values are not accidentally overridden by default values.
func buildCLIOverrides(cmd *cobra.Command, cfg *config.Config) map[string]string {
	overrides := make(map[string]string)

	stringFlags := map[string]struct {
		key string
		val string
	}{
		"run-name":               {"RUN_NAME", cfg.RunName},
		"data-dir":               {"DATA_DIR", cfg.DataDir},
		"algorithm":              {"ALGORITHM", cfg.Algorithm},
		"best-checkpoint-metric": {"BEST_CHECKPOINT_METRIC", cfg.BestCheckpointMetric},
	}
	for flag, mapping := range stringFlags {
		if cmd.Flags().Changed(flag) {
			overrides[mapping.key] = mapping.val
		}
	}

	intFlags := map[string]struct {
		key string
		val int
	}{
		"total-steps":             {"TOTAL_STEPS", cfg.TotalSteps},
		"num-envs":                {"NUM_ENVS", cfg.NumEnvs},
		"rollout-steps":           {"ROLLOUT_STEPS", cfg.RolloutSteps},
		"buffer-capacity":         {"BUFFER_CAPACITY", cfg.BufferCapacity},
		"batch-size":              {"BATCH_SIZE", cfg.BatchSize},
		"warmup-steps":            {"WARMUP_STEPS", cfg.WarmupSteps},
		"max-checkpoints-to-keep": {"MAX_CHECKPOINTS_TO_KEEP", cfg.MaxCheckpointsToKeep},
		"checkpoint-interval":     {"CHECKPOINT_INTERVAL", cfg.CheckpointInterval},
		"eval-episodes":           {"EVAL_EPISODES", cfg.EvalEpisodes},
	}
	for flag, mapping := range intFlags {
		if cmd.Flags().Changed(flag) {
			overrides[mapping.key] = fmt.Sprintf("%d", mapping.val)
		}
	}

	floatFlags := map[string]struct {
		key string
		val float64
	}{
		"learning-rate":   {"LEARNING_RATE", cfg.LearningRate},
		"gamma":           {"GAMMA", cfg.Gamma},
		"exploration-std": {"EXPLORATION_STD", cfg.ExplorationStd},
		"polyak-tau":      {"POLYAK_TAU", cfg.PolyakTau},
	}
	for flag, mapping := range floatFlags {
		if cmd.Flags().Changed(flag) {
			overrides[mapping.key] = fmt.Sprintf("%g", mapping.val)
		}
	}

	if cmd.Flags().Changed("seed") {
		overrides["SEED"] = fmt.Sprintf("%d", cfg.Seed)
	}
	if cmd.Flags().Changed("verbose") {
		overrides["VERBOSE"] = fmt.Sprintf("%t", cfg.Verbose)
	}

	// Negation flags
	if cmd.Flags().Changed("no-checkpoint") {
		overrides["CHECKPOINT"] = "false"
	}
	if cmd.Flags().Changed("no-tracking") {
		overrides["TRACKING"] = "false"
	}

	return overrides
}

func runTraining(cmd *cobra.Command, cfg *config.Config) error {
	// Load config with full precedence chain
	// CLI flags are already bound to cfg, now load file-based configs
	globalConfigPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		globalConfigPath = home + "/.metatrain.conf"
	}
	projectConfigPath := "metatrain.conf"
	explicitConfigPath := cfg.ConfigFile

	// Build CLI overrides map using Changed() for accurate detection
	cliOverrides := buildCLIOverrides(cmd, cfg)

	// Load config with precedence
	finalCfg, err := config.LoadWithPrecedence(globalConfigPath, projectConfigPath, explicitConfigPath, cliOverrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Merge CLI-only flags (not in config files)
	finalCfg.ConfigFile = cfg.ConfigFile
	finalCfg.Resume = finalCfg.Resume || cfg.Resume
	finalCfg.Clean = cfg.Clean
	finalCfg.Status = cfg.Status

	// Replace cfg reference for subsequent use
	cfg = finalCfg

	// Set verbose mode
	logging.SetVerbose(cfg.Verbose)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handler to checkpoint on interrupt
	sighandler.SetupSignalHandler(ctx, cancel, func() {
		logging.Warn("Interrupted — checkpointing...")
	})

	// Run orchestrator
	orch := run.New(cfg)
	exitCode := orch.Run(ctx)
	os.Exit(exitCode)
	return nil // unreachable
}
