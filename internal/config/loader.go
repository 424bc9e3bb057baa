package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// whitelistSet is a precomputed lookup table for fast whitelist membership checks.
var whitelistSet map[string]bool

func init() {
	whitelistSet = make(map[string]bool, len(WhitelistedVars))
	for _, v := range WhitelistedVars {
		whitelistSet[v] = true
	}
}

// LoadFile parses a KEY=VALUE config file at the given path using dotenv
// syntax (comments, quoting, and blank lines handled by godotenv). Keys not
// present in WhitelistedVars are silently dropped.
func LoadFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	parsed, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	result := make(map[string]string, len(parsed))
	for key, value := range parsed {
		key = strings.TrimSpace(key)
		if !whitelistSet[key] {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}

	return result, nil
}

// LoadWithPrecedence assembles a Config by merging sources in order of
// increasing priority:
//
//  1. Built-in defaults
//  2. Global config file (globalPath)
//  3. Project config file (projectPath)
//  4. Explicit config file (explicitPath)
//  5. CLI overrides (cliOverrides map)
//
// Any path that is empty is silently skipped. A missing global or project
// file is not an error; a missing explicit file is.
func LoadWithPrecedence(globalPath, projectPath, explicitPath string, cliOverrides map[string]string) (*Config, error) {
	cfg := NewDefaultConfig()

	// Layer 2: global config file.
	if globalPath != "" {
		m, err := LoadFile(globalPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("global config: %w", err)
			}
		} else {
			ApplyMapToConfig(cfg, m)
		}
	}

	// Layer 3: project config file.
	if projectPath != "" {
		m, err := LoadFile(projectPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("project config: %w", err)
			}
		} else {
			ApplyMapToConfig(cfg, m)
		}
	}

	// Layer 4: explicit config file (must exist if specified).
	if explicitPath != "" {
		m, err := LoadFile(explicitPath)
		if err != nil {
			return nil, fmt.Errorf("explicit config: %w", err)
		}
		ApplyMapToConfig(cfg, m)
	}

	// Layer 5: CLI overrides (highest priority).
	if len(cliOverrides) > 0 {
		ApplyMapToConfig(cfg, cliOverrides)
	}

	return cfg, nil
}

// ApplyMapToConfig sets fields on cfg from the key-value pairs in m.
// Keys must use the WhitelistedVars naming convention (e.g., "RUN_NAME").
// Unknown keys are silently ignored. Numeric fields that fail to parse
// are silently ignored (the previous value is preserved).
func ApplyMapToConfig(cfg *Config, m map[string]string) {
	for key, value := range m {
		switch key {
		case "RUN_NAME":
			cfg.RunName = value
		case "SEED":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				cfg.Seed = v
			}
		case "DATA_DIR":
			cfg.DataDir = value
		case "ALGORITHM":
			cfg.Algorithm = value
		case "TOTAL_STEPS":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.TotalSteps = v
			}
		case "NUM_ENVS":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.NumEnvs = v
			}
		case "ROLLOUT_STEPS":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.RolloutSteps = v
			}
		case "BUFFER_CAPACITY":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.BufferCapacity = v
			}
		case "BATCH_SIZE":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.BatchSize = v
			}
		case "WARMUP_STEPS":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.WarmupSteps = v
			}
		case "LEARNING_RATE":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.LearningRate = v
			}
		case "GAMMA":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.Gamma = v
			}
		case "EXPLORATION_STD":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.ExplorationStd = v
			}
		case "POLYAK_TAU":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.PolyakTau = v
			}
		case "CHECKPOINT":
			cfg.Checkpoint = parseBool(value)
		case "MAX_CHECKPOINTS_TO_KEEP":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.MaxCheckpointsToKeep = v
			}
		case "BEST_CHECKPOINT_METRIC":
			cfg.BestCheckpointMetric = value
		case "RESUME":
			cfg.Resume = parseBool(value)
		case "CHECKPOINT_INTERVAL":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.CheckpointInterval = v
			}
		case "EVAL_EPISODES":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.EvalEpisodes = v
			}
		case "TRACKING":
			cfg.Tracking = parseBool(value)
		case "VERBOSE":
			cfg.Verbose = parseBool(value)
		}
	}
}

// parseBool interprets common boolean representations.
// "true", "1", "yes" (case-insensitive) return true; everything else returns false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
