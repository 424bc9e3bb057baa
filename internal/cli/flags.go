// Package cli provides flag binding and validation for the metatrain CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benchrl/metatrain/internal/algorithm"
	"github.com/benchrl/metatrain/internal/config"
)

// BindFlags registers all CLI flags on the given cobra command.
// The flags directly modify fields in the provided config pointer.
// Call ValidateFlags after parsing to check flag combinations.
func BindFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	// Run identity
	flags.StringVar(&cfg.RunName, "run-name", cfg.RunName, "Run name (with --seed, identifies the run on disk)")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Master seed for all randomness")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Root directory for run data")

	// Algorithm & training shape
	flags.StringVar(&cfg.Algorithm, "algorithm", cfg.Algorithm, "Algorithm family: onpolicy, offpolicy, or metalearning")
	flags.IntVar(&cfg.TotalSteps, "total-steps", cfg.TotalSteps, "Total environment steps to train for")
	flags.IntVar(&cfg.NumEnvs, "num-envs", cfg.NumEnvs, "Number of parallel sub-environments")
	flags.IntVar(&cfg.RolloutSteps, "rollout-steps", cfg.RolloutSteps, "Steps per rollout for rollout families")

	// Off-policy replay
	flags.IntVar(&cfg.BufferCapacity, "buffer-capacity", cfg.BufferCapacity, "Replay buffer capacity")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Replay batch size")
	flags.IntVar(&cfg.WarmupSteps, "warmup-steps", cfg.WarmupSteps, "Steps before replay updates begin")

	// Hyperparameters
	flags.Float64Var(&cfg.LearningRate, "learning-rate", cfg.LearningRate, "Learning rate")
	flags.Float64Var(&cfg.Gamma, "gamma", cfg.Gamma, "Discount factor")
	flags.Float64Var(&cfg.ExplorationStd, "exploration-std", cfg.ExplorationStd, "Exploration noise std")
	flags.Float64Var(&cfg.PolyakTau, "polyak-tau", cfg.PolyakTau, "Target network Polyak coefficient")

	// Checkpointing
	flags.IntVar(&cfg.MaxCheckpointsToKeep, "max-checkpoints-to-keep", cfg.MaxCheckpointsToKeep, "Retained checkpoint count (best always kept)")
	flags.StringVar(&cfg.BestCheckpointMetric, "best-checkpoint-metric", cfg.BestCheckpointMetric, "Metric selecting the best checkpoint")
	flags.IntVar(&cfg.CheckpointInterval, "checkpoint-interval", cfg.CheckpointInterval, "Environment steps between checkpoints")

	// Evaluation
	flags.IntVar(&cfg.EvalEpisodes, "eval-episodes", cfg.EvalEpisodes, "Evaluation episodes per task")

	// Feature toggles
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug output")

	// Negation flags need special handling via Changed detection
	var noCheckpoint, noTracking bool
	flags.BoolVar(&noCheckpoint, "no-checkpoint", false, "Disable checkpointing")
	flags.BoolVar(&noTracking, "no-tracking", false, "Disable experiment tracking")

	// Config file
	flags.StringVar(&cfg.ConfigFile, "config", "", "Path to additional config file")

	// Run management
	flags.BoolVar(&cfg.Resume, "resume", false, "Resume from the latest checkpoint")
	flags.BoolVar(&cfg.Clean, "clean", false, "Delete the run directory and exit")
	flags.BoolVar(&cfg.Status, "status", false, "Show the run's latest checkpoint and exit")
}

// ValidateFlags checks for invalid flag combinations after parsing.
// Must be called after cmd.Execute() or cmd.ParseFlags().
func ValidateFlags(cmd *cobra.Command, cfg *config.Config) error {
	// Handle negation flags via Changed detection
	if cmd.Flags().Changed("no-checkpoint") {
		cfg.Checkpoint = false
	}
	if cmd.Flags().Changed("no-tracking") {
		cfg.Tracking = false
	}

	// --config must exist if provided
	if cfg.ConfigFile != "" {
		if _, err := os.Stat(cfg.ConfigFile); err != nil {
			return fmt.Errorf("--config: %w", err)
		}
	}

	// Validate algorithm family
	valid := false
	for _, family := range algorithm.Families() {
		if cfg.Algorithm == family {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("--algorithm must be one of %v, got: %s", algorithm.Families(), cfg.Algorithm)
	}

	if cfg.TotalSteps <= 0 {
		return fmt.Errorf("--total-steps must be positive, got: %d", cfg.TotalSteps)
	}
	if cfg.NumEnvs <= 0 {
		return fmt.Errorf("--num-envs must be positive, got: %d", cfg.NumEnvs)
	}

	// Rollout families consume experience in whole rollouts. A checkpoint
	// landing mid-rollout would lose the partial rollout on resume, so the
	// interval must be a rollout multiple.
	if cfg.Algorithm != algorithm.FamilyOffPolicy && cfg.Checkpoint {
		if cfg.RolloutSteps <= 0 {
			return fmt.Errorf("--rollout-steps must be positive, got: %d", cfg.RolloutSteps)
		}
		if cfg.CheckpointInterval%cfg.RolloutSteps != 0 {
			return fmt.Errorf("--checkpoint-interval (%d) must be a multiple of --rollout-steps (%d)",
				cfg.CheckpointInterval, cfg.RolloutSteps)
		}
	}

	if cfg.Resume && !cfg.Checkpoint {
		return fmt.Errorf("--resume cannot be combined with --no-checkpoint")
	}

	return nil
}
