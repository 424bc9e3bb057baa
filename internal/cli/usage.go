// Package cli provides help text and usage formatting for the metatrain CLI.
package cli

import (
	"github.com/spf13/cobra"
)

const helpTemplate = `metatrain - Resumable multi-task RL training runs

USAGE
  metatrain [flags]

FLAGS
  Run Identity:
    --run-name <name>                  Run name (default: run)
    --seed <int>                       Master seed for all randomness (default: 1)
    --data-dir <path>                  Root directory for run data (default: data)

  Algorithm & Training:
    --algorithm <family>               onpolicy, offpolicy, or metalearning (default: onpolicy)
    --total-steps <int>                Total environment steps (default: 100000)
    --num-envs <int>                   Parallel sub-environments (default: 10)
    --rollout-steps <int>              Steps per rollout for rollout families (default: 128)
    --learning-rate <float>            Learning rate (default: 0.0003)
    --gamma <float>                    Discount factor (default: 0.99)
    --exploration-std <float>          Exploration noise std (default: 0.1)

  Off-Policy Replay:
    --buffer-capacity <int>            Replay buffer capacity (default: 100000)
    --batch-size <int>                 Replay batch size (default: 128)
    --warmup-steps <int>               Steps before replay updates begin (default: 1000)
    --polyak-tau <float>               Target network Polyak coefficient (default: 0.005)

  Checkpointing:
    --checkpoint-interval <int>        Steps between checkpoints (default: 12800)
    --max-checkpoints-to-keep <int>    Retained checkpoints, best always kept (default: 5)
    --best-checkpoint-metric <name>    Metric selecting the best checkpoint (default: mean_success_rate)
    --no-checkpoint                    Disable checkpointing

  Evaluation & Tracking:
    --eval-episodes <int>              Evaluation episodes per task (default: 10)
    --no-tracking                      Disable experiment tracking

  Feature Toggles:
    -v, --verbose                      Enable debug output
    --config <path>                    Path to additional config file

  Run Management:
    --resume                           Resume from the latest checkpoint
    --clean                            Delete the run directory and exit
    --status                           Show the run's latest checkpoint and exit

  Help & Version:
    -h, --help                         Show this help text
    --version                          Show version, commit, build date

EXIT CODES
  0   Success                  Training completed and final checkpoint written
  1   Error                    Invalid arguments, I/O failure, misconfiguration
  2   AcceleratorUnavailable   No supported accelerator found at preflight
  3   CheckpointCorrupt        Resume found a corrupt or incomplete checkpoint
  4   UnsupportedSpace         Environment space is not a bounded continuous box
  130 Interrupted              SIGINT or SIGTERM received

EXAMPLES
  # Start a new on-policy run with default settings
  metatrain --run-name reach --seed 42

  # Train the replay family with a larger buffer
  metatrain --algorithm offpolicy --buffer-capacity 500000

  # Resume an interrupted run
  metatrain --run-name reach --seed 42 --resume

  # Check a run's latest checkpoint
  metatrain --run-name reach --seed 42 --status

For more information, see: https://github.com/benchrl/metatrain
`

// SetCustomHelp configures the cobra command to use our custom help template.
func SetCustomHelp(cmd *cobra.Command) {
	cmd.SetHelpTemplate(helpTemplate)
}
