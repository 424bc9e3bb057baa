// Package config defines the metatrain configuration model and default values.
//
// Configuration is assembled from multiple sources with a strict precedence
// chain: built-in defaults < global config file < project config file <
// explicit config file < CLI flag overrides.
package config

// WhitelistedVars lists every configuration variable name that may appear in
// config files. Variables not in this list are silently ignored during loading.
var WhitelistedVars = [22]string{
	"RUN_NAME",
	"SEED",
	"DATA_DIR",
	"ALGORITHM",
	"TOTAL_STEPS",
	"NUM_ENVS",
	"ROLLOUT_STEPS",
	"BUFFER_CAPACITY",
	"BATCH_SIZE",
	"WARMUP_STEPS",
	"LEARNING_RATE",
	"GAMMA",
	"EXPLORATION_STD",
	"POLYAK_TAU",
	"CHECKPOINT",
	"MAX_CHECKPOINTS_TO_KEEP",
	"BEST_CHECKPOINT_METRIC",
	"RESUME",
	"CHECKPOINT_INTERVAL",
	"EVAL_EPISODES",
	"TRACKING",
	"VERBOSE",
}

// Config holds every configuration field for the metatrain CLI.
type Config struct {
	// Run identity. Immutable once a run starts: together with the data
	// directory it determines the on-disk root for all checkpoints.
	RunName string
	Seed    int64
	DataDir string

	// Algorithm family and training shape.
	Algorithm    string
	TotalSteps   int
	NumEnvs      int
	RolloutSteps int

	// Off-policy replay settings.
	BufferCapacity int
	BatchSize      int
	WarmupSteps    int

	// Update hyperparameters (opaque to the orchestrator).
	LearningRate   float64
	Gamma          float64
	ExplorationStd float64
	PolyakTau      float64

	// Checkpointing.
	Checkpoint           bool
	MaxCheckpointsToKeep int
	BestCheckpointMetric string
	Resume               bool
	CheckpointInterval   int

	// Evaluation.
	EvalEpisodes int

	// Observability.
	Tracking bool
	Verbose  bool

	// CLI-only flags (not loaded from config files).
	ConfigFile string
	Status     bool
	Clean      bool
}

// NewDefaultConfig returns a Config populated with all built-in default values.
func NewDefaultConfig() *Config {
	return &Config{
		RunName:              "run",
		Seed:                 1,
		DataDir:              "data",
		Algorithm:            "onpolicy",
		TotalSteps:           100000,
		NumEnvs:              10,
		RolloutSteps:         128,
		BufferCapacity:       100000,
		BatchSize:            128,
		WarmupSteps:          1000,
		LearningRate:         3e-4,
		Gamma:                0.99,
		ExplorationStd:       0.1,
		PolyakTau:            0.005,
		Checkpoint:           true,
		MaxCheckpointsToKeep: 5,
		BestCheckpointMetric: "mean_success_rate",
		// Must stay a multiple of RolloutSteps: rollout families refuse a
		// checkpoint cadence that would land mid-rollout.
		CheckpointInterval: 12800,
		EvalEpisodes:       10,
		Tracking:           true,
	}
}
