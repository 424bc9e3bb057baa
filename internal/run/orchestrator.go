// Package run implements the training-run orchestrator: the state machine
// that drives preflight checks, environment and algorithm setup, checkpoint
// resume, the training loop, evaluation, and finalization.
//
// Run identity is (run name, seed): together with the data directory they
// determine the on-disk root for all checkpoints, so a re-invocation with
// --resume finds the previous invocation's state. The tracking-run id is
// anchored by the timestamp persisted in checkpoint metadata, so a resumed
// run continues the same tracking run instead of opening a new one.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/benchrl/metatrain/internal/accelerator"
	"github.com/benchrl/metatrain/internal/algorithm"
	"github.com/benchrl/metatrain/internal/banner"
	"github.com/benchrl/metatrain/internal/checkpoint"
	"github.com/benchrl/metatrain/internal/config"
	"github.com/benchrl/metatrain/internal/env"
	"github.com/benchrl/metatrain/internal/exitcode"
	"github.com/benchrl/metatrain/internal/logging"
	"github.com/benchrl/metatrain/internal/rng"
	"github.com/benchrl/metatrain/internal/tracking"
)

// Orchestrator drives one training run from preflight to completion.
type Orchestrator struct {
	Config *config.Config

	// AcceleratorCheck is the preflight probe. Overridable in tests.
	AcceleratorCheck func() error

	// Tracker receives experiment tracking events. Nil selects a file
	// tracker under the run directory (or a no-op when tracking is off).
	Tracker tracking.Tracker

	// now is the clock, overridable in tests.
	now func() time.Time

	timestamp string
	runID     string
	itemNames []string

	mgr       *checkpoint.Manager
	alg       algorithm.Algorithm
	offPolicy bool
	envs      *env.VecEnv
	rngs      *rng.Manager

	startStep     int
	episodesEnded int
	startTime     time.Time

	// Per-checkpoint-interval episode aggregates.
	intervalEpisodes  int
	intervalSuccesses int
	intervalReturnSum float64
	lastUpdateMetrics map[string]float64
}

// New returns an orchestrator for the given configuration.
func New(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		Config:           cfg,
		AcceleratorCheck: accelerator.Check,
		now:              time.Now,
	}
}

// RunDir returns the per-run root directory: <dataDir>/<runName>_<seed>.
func (o *Orchestrator) RunDir() string {
	return filepath.Join(o.Config.DataDir, fmt.Sprintf("%s_%d", o.Config.RunName, o.Config.Seed))
}

func (o *Orchestrator) checkpointRoot() string {
	return filepath.Join(o.RunDir(), "checkpoints")
}

// Run executes the full run state machine and returns the process exit code.
// Each phase returns -1 to continue or a final exit code to stop with.
func (o *Orchestrator) Run(ctx context.Context) int {
	o.startTime = o.now()

	if code := o.preflight(); code != -1 {
		return code
	}
	if code := o.maintenance(); code != -1 {
		return code
	}
	if code := o.setup(); code != -1 {
		return code
	}
	if code := o.resume(); code != -1 {
		return code
	}
	o.initTracking()
	if code := o.train(ctx); code != -1 {
		return code
	}
	return o.finalize()
}

// preflight verifies the accelerator before any state is touched.
func (o *Orchestrator) preflight() int {
	if err := o.AcceleratorCheck(); err != nil {
		logging.Error(fmt.Sprintf("Accelerator preflight failed: %v", err))
		return exitcode.AcceleratorUnavailable
	}
	logging.Debug(fmt.Sprintf("Accelerator: %s", accelerator.DeviceName()))
	return -1
}

// maintenance handles the non-training entry points: --status and --clean.
func (o *Orchestrator) maintenance() int {
	if o.Config.Status {
		return o.printStatus()
	}
	if o.Config.Clean {
		logging.Info(fmt.Sprintf("Removing run directory %s", o.RunDir()))
		if err := os.RemoveAll(o.RunDir()); err != nil {
			logging.Error(fmt.Sprintf("Clean failed: %v", err))
			return exitcode.Error
		}
		logging.Success("Run directory removed")
		return exitcode.Success
	}
	return -1
}

func (o *Orchestrator) printStatus() int {
	probe, err := checkpoint.Open(o.checkpointRoot(), []string{checkpoint.ItemMetadata}, checkpoint.Options{})
	if err != nil {
		logging.Error(fmt.Sprintf("Cannot open checkpoint root: %v", err))
		return exitcode.Error
	}
	step, ok := probe.LatestStep()
	if !ok {
		logging.Info(fmt.Sprintf("No checkpoints for run %s (seed %d)", o.Config.RunName, o.Config.Seed))
		return exitcode.Success
	}
	meta, err := probe.RestoreMetadata(step)
	if err != nil {
		logging.Error(fmt.Sprintf("Cannot read checkpoint metadata: %v", err))
		return exitcode.CheckpointCorrupt
	}
	banner.PrintStatusBanner(banner.StatusInfo{
		RunName:       o.Config.RunName,
		Seed:          o.Config.Seed,
		Step:          meta.Step,
		EpisodesEnded: meta.EpisodesEnded,
		Timestamp:     meta.Timestamp,
	})
	return exitcode.Success
}

// setup builds the RNG manager, environment, algorithm, and checkpoint
// manager for this run.
func (o *Orchestrator) setup() int {
	cfg := o.Config
	banner.PrintStartupBanner(cfg.RunName, cfg.Algorithm, cfg.Seed, cfg.TotalSteps)

	if cfg.Resume && !cfg.Checkpoint {
		logging.Error("--resume requires checkpointing to be enabled")
		return exitcode.Error
	}

	o.rngs = rng.NewManager(cfg.Seed)
	envCfg := env.DefaultConfig(cfg.NumEnvs)
	o.envs = env.Spawn(envCfg, o.rngs.General)

	alg, err := algorithm.Initialize(algorithm.Config{
		Family:         cfg.Algorithm,
		LearningRate:   cfg.LearningRate,
		Gamma:          cfg.Gamma,
		ExplorationStd: cfg.ExplorationStd,
		PolyakTau:      cfg.PolyakTau,
		BufferCapacity: cfg.BufferCapacity,
	}, envCfg, cfg.Seed)
	if err != nil {
		logging.Error(fmt.Sprintf("Algorithm initialization failed: %v", err))
		if errors.Is(err, algorithm.ErrUnsupportedSpace) {
			return exitcode.UnsupportedSpace
		}
		return exitcode.Error
	}
	o.alg = alg
	o.offPolicy = alg.IsOffPolicy()

	o.itemNames = []string{
		checkpoint.ItemAgent,
		checkpoint.ItemEnvStates,
		checkpoint.ItemRNGs,
		checkpoint.ItemMetadata,
	}
	if o.offPolicy {
		o.itemNames = append(o.itemNames, checkpoint.ItemBuffer)
	}

	if cfg.Checkpoint {
		metric := cfg.BestCheckpointMetric
		mgr, err := checkpoint.Open(o.checkpointRoot(), o.itemNames, checkpoint.Options{
			MaxToKeep: cfg.MaxCheckpointsToKeep,
			BestFn:    func(m map[string]float64) float64 { return m[metric] },
		})
		if err != nil {
			logging.Error(fmt.Sprintf("Cannot open checkpoint root: %v", err))
			return exitcode.Error
		}
		o.mgr = mgr
	}

	return -1
}

// deriveRunID anchors the tracking-run id to the timestamp recorded in
// checkpoint metadata. A checkpoint written without a timestamp falls back
// to the unanchored name_seed form; the caller warns on fallback.
func deriveRunID(timestamp, name string, seed int64) (string, bool) {
	if timestamp == "" {
		return fmt.Sprintf("%s_%d", name, seed), true
	}
	return fmt.Sprintf("%s_%s_%d", timestamp, name, seed), false
}

// resume restores the latest checkpoint when --resume is set. A corrupt or
// incomplete checkpoint is fatal: there is no silent fresh start once a
// checkpoint exists.
func (o *Orchestrator) resume() int {
	cfg := o.Config

	fresh := func() int {
		o.timestamp = strconv.FormatInt(o.now().Unix(), 10)
		o.runID, _ = deriveRunID(o.timestamp, cfg.RunName, cfg.Seed)
		return -1
	}

	if !cfg.Resume {
		return fresh()
	}

	// Probe with a metadata-only manager: finding the latest step must
	// never read the large items.
	probe, err := checkpoint.Open(o.checkpointRoot(), []string{checkpoint.ItemMetadata}, checkpoint.Options{})
	if err != nil {
		logging.Error(fmt.Sprintf("Cannot open checkpoint root: %v", err))
		return exitcode.Error
	}
	step, ok := probe.LatestStep()
	if !ok {
		logging.Warn("No checkpoint found, starting fresh")
		return fresh()
	}

	logging.Phase(fmt.Sprintf("Restoring checkpoint at step %d", step))
	bundle, err := o.mgr.Restore(step, o.itemNames)
	if err != nil {
		logging.Error(fmt.Sprintf("Checkpoint restore failed: %v", err))
		if errors.Is(err, checkpoint.ErrCorrupt) {
			return exitcode.CheckpointCorrupt
		}
		return exitcode.Error
	}
	if err := o.rehydrate(bundle); err != nil {
		logging.Error(fmt.Sprintf("Checkpoint restore failed: %v", err))
		return exitcode.CheckpointCorrupt
	}

	var fallback bool
	o.runID, fallback = deriveRunID(o.timestamp, cfg.RunName, cfg.Seed)
	if fallback {
		logging.Warn("Checkpoint metadata has no timestamp, tracking-run id is not resume-stable")
	}

	banner.PrintResumeBanner(o.runID, o.startStep, o.episodesEnded)
	return -1
}

// rehydrate applies a restored bundle to the agent, environment, RNG
// streams, replay buffer, and run counters, in that order.
func (o *Orchestrator) rehydrate(bundle checkpoint.Bundle) error {
	if err := o.alg.Deserialize(bundle[checkpoint.ItemAgent]); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	var states []env.SubEnvState
	if err := json.Unmarshal(bundle[checkpoint.ItemEnvStates], &states); err != nil {
		return fmt.Errorf("environment states: %w", err)
	}
	if err := o.envs.RestoreState(states); err != nil {
		return fmt.Errorf("environment states: %w", err)
	}

	var snap rng.Snapshot
	if err := json.Unmarshal(bundle[checkpoint.ItemRNGs], &snap); err != nil {
		return fmt.Errorf("rng states: %w", err)
	}
	o.rngs.Restore(snap)

	if o.offPolicy {
		buf := o.alg.(algorithm.OffPolicyAlgorithm).Buffer()
		if err := buf.Deserialize(bundle[checkpoint.ItemBuffer]); err != nil {
			return fmt.Errorf("replay buffer: %w", err)
		}
	}

	var meta checkpoint.Metadata
	if err := json.Unmarshal(bundle[checkpoint.ItemMetadata], &meta); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	o.startStep = meta.Step
	o.episodesEnded = meta.EpisodesEnded
	o.timestamp = meta.Timestamp
	return nil
}

// initTracking opens the tracking run and records the resolved config.
// Tracking failures are logged and ignored: they never stop training.
func (o *Orchestrator) initTracking() {
	cfg := o.Config
	if o.Tracker == nil {
		if cfg.Tracking {
			o.Tracker = tracking.NewFileTracker(o.RunDir())
		} else {
			o.Tracker = tracking.Nop{}
		}
	}

	record := map[string]any{
		"run_name":        cfg.RunName,
		"seed":            cfg.Seed,
		"algorithm":       cfg.Algorithm,
		"total_steps":     cfg.TotalSteps,
		"num_envs":        cfg.NumEnvs,
		"rollout_steps":   cfg.RolloutSteps,
		"buffer_capacity": cfg.BufferCapacity,
		"batch_size":      cfg.BatchSize,
		"warmup_steps":    cfg.WarmupSteps,
		"learning_rate":   cfg.LearningRate,
		"gamma":           cfg.Gamma,
	}
	if err := o.Tracker.Init(o.runID, cfg.RunName, record); err != nil {
		logging.Warn(fmt.Sprintf("Tracking init failed: %v", err))
	}

	for component, count := range o.alg.ParameterCounts() {
		logging.Info(fmt.Sprintf("Parameters: %s=%d", component, count))
	}
}

// train runs the main loop from the step after the restored checkpoint (or
// step 1) through TotalSteps.
func (o *Orchestrator) train(ctx context.Context) int {
	cfg := o.Config
	logging.Phase(fmt.Sprintf("Training from step %d to %d", o.startStep+1, cfg.TotalSteps))

	obs := o.envs.Observations()
	var rollout algorithm.Rollout
	rollout.NumEnvs = cfg.NumEnvs

	for step := o.startStep + 1; step <= cfg.TotalSteps; step++ {
		select {
		case <-ctx.Done():
			return o.interrupt(step - 1)
		default:
		}

		actions := make([][]float64, cfg.NumEnvs)
		for i := range actions {
			actions[i] = o.alg.SampleAction(obs[i])
		}
		res := o.envs.Step(actions)

		o.episodesEnded += res.EpisodesEnded
		for i, done := range res.Dones {
			if !done {
				continue
			}
			o.intervalEpisodes++
			if res.Successes[i] {
				o.intervalSuccesses++
			}
			o.intervalReturnSum += res.Returns[i]
		}

		if o.offPolicy {
			if code := o.offPolicyStep(step, obs, actions, res); code != -1 {
				return code
			}
		} else {
			if code := o.onPolicyStep(step, obs, actions, res, &rollout); code != -1 {
				return code
			}
		}
		obs = res.Observations

		if o.mgr != nil && step%cfg.CheckpointInterval == 0 {
			metrics := o.intervalMetrics()
			if err := o.saveCheckpoint(step, metrics, false); err != nil {
				logging.Error(fmt.Sprintf("Checkpoint save failed: %v", err))
				return exitcode.Error
			}
			logging.Info(fmt.Sprintf("Checkpoint at step %d: %s", step, logging.FormatMetrics(metrics)))
			if err := o.Tracker.LogMetrics(step, metrics); err != nil {
				logging.Warn(fmt.Sprintf("Tracking metrics failed: %v", err))
			}
			o.resetIntervalMetrics()
		}
	}

	return -1
}

func (o *Orchestrator) offPolicyStep(step int, obs, actions [][]float64, res env.StepResult) int {
	cfg := o.Config
	buf := o.alg.(algorithm.OffPolicyAlgorithm).Buffer()
	for i := range actions {
		buf.Insert(obs[i], actions[i], res.Observations[i], res.Rewards[i], res.Dones[i])
	}
	if step <= cfg.WarmupSteps || buf.Len() < cfg.BatchSize {
		return -1
	}

	metrics, err := o.alg.Update(buf.Sample(cfg.BatchSize))
	if err != nil {
		logging.Error(fmt.Sprintf("Update failed at step %d: %v", step, err))
		return exitcode.Error
	}
	o.lastUpdateMetrics = metrics
	return -1
}

func (o *Orchestrator) onPolicyStep(step int, obs, actions [][]float64, res env.StepResult, rollout *algorithm.Rollout) int {
	cfg := o.Config
	for i := range actions {
		rollout.Observations = append(rollout.Observations, obs[i])
		rollout.Actions = append(rollout.Actions, actions[i])
		rollout.Rewards = append(rollout.Rewards, res.Rewards[i])
		rollout.Dones = append(rollout.Dones, res.Dones[i])
	}
	if rollout.Len() < cfg.RolloutSteps*cfg.NumEnvs {
		return -1
	}

	metrics, err := o.alg.Update(*rollout)
	if err != nil {
		logging.Error(fmt.Sprintf("Update failed at step %d: %v", step, err))
		return exitcode.Error
	}
	o.lastUpdateMetrics = metrics
	logging.Debug(fmt.Sprintf("Update at step %d: %s", step, logging.FormatMetrics(metrics)))

	*rollout = algorithm.Rollout{NumEnvs: cfg.NumEnvs}
	return -1
}

func (o *Orchestrator) intervalMetrics() map[string]float64 {
	metrics := make(map[string]float64, len(o.lastUpdateMetrics)+2)
	for k, v := range o.lastUpdateMetrics {
		metrics[k] = v
	}
	if o.intervalEpisodes > 0 {
		metrics["mean_success_rate"] = float64(o.intervalSuccesses) / float64(o.intervalEpisodes)
		metrics["mean_episodic_return"] = o.intervalReturnSum / float64(o.intervalEpisodes)
	} else {
		metrics["mean_success_rate"] = 0
		metrics["mean_episodic_return"] = 0
	}
	return metrics
}

func (o *Orchestrator) resetIntervalMetrics() {
	o.intervalEpisodes = 0
	o.intervalSuccesses = 0
	o.intervalReturnSum = 0
}

// saveCheckpoint assembles the full bundle and hands it to the manager.
// Callers that need durability (finalization, interrupt) must additionally
// await WaitUntilFinished.
func (o *Orchestrator) saveCheckpoint(step int, metrics map[string]float64, final bool) error {
	agentData, err := o.alg.Serialize()
	if err != nil {
		return fmt.Errorf("serialize agent: %w", err)
	}
	envData, err := json.Marshal(o.envs.SnapshotState())
	if err != nil {
		return fmt.Errorf("serialize environment states: %w", err)
	}
	rngData, err := json.Marshal(o.rngs.Snapshot())
	if err != nil {
		return fmt.Errorf("serialize rng states: %w", err)
	}
	metaData, err := json.Marshal(checkpoint.Metadata{
		Timestamp:     o.timestamp,
		Step:          step,
		EpisodesEnded: o.episodesEnded,
	})
	if err != nil {
		return fmt.Errorf("serialize metadata: %w", err)
	}

	bundle := checkpoint.Bundle{
		checkpoint.ItemAgent:     agentData,
		checkpoint.ItemEnvStates: envData,
		checkpoint.ItemRNGs:      rngData,
		checkpoint.ItemMetadata:  metaData,
	}
	if o.offPolicy {
		bufData, err := o.alg.(algorithm.OffPolicyAlgorithm).Buffer().Serialize()
		if err != nil {
			return fmt.Errorf("serialize replay buffer: %w", err)
		}
		bundle[checkpoint.ItemBuffer] = bufData
	}

	if final {
		return o.mgr.SaveFinal(step, bundle, metrics)
	}
	return o.mgr.Save(step, bundle, metrics)
}

// interrupt handles a context cancellation observed between steps. An exact
// checkpoint is only possible at an update boundary for rollout families;
// otherwise the run resumes from the last periodic checkpoint.
func (o *Orchestrator) interrupt(lastStep int) int {
	lastSaved := o.startStep
	if o.mgr != nil {
		if err := o.mgr.WaitUntilFinished(); err != nil {
			logging.Warn(fmt.Sprintf("Checkpoint save failed: %v", err))
		}
		if s, ok := o.mgr.LatestStep(); ok {
			lastSaved = s
		}
		atBoundary := o.offPolicy || lastStep%o.Config.RolloutSteps == 0
		if atBoundary && lastStep > lastSaved {
			if err := o.saveCheckpoint(lastStep, o.intervalMetrics(), false); err != nil {
				logging.Warn(fmt.Sprintf("Interrupt checkpoint failed: %v", err))
			} else if err := o.mgr.WaitUntilFinished(); err != nil {
				logging.Warn(fmt.Sprintf("Interrupt checkpoint failed: %v", err))
			} else {
				lastSaved = lastStep
			}
		}
		if err := o.mgr.Close(); err != nil {
			logging.Warn(fmt.Sprintf("Checkpoint close failed: %v", err))
		}
	}
	if err := o.Tracker.Close(); err != nil {
		logging.Warn(fmt.Sprintf("Tracking close failed: %v", err))
	}

	banner.PrintInterruptedBanner(lastSaved)
	return exitcode.Interrupted
}

// finalize evaluates the trained policy, writes the final checkpoint, and
// publishes artifacts.
func (o *Orchestrator) finalize() int {
	cfg := o.Config
	logging.Phase("Evaluating trained policy")

	meanSuccess, meanReturn, perTask := o.evaluate()
	finalMetrics := map[string]float64{
		"mean_success_rate":      meanSuccess,
		"mean_evaluation_return": meanReturn,
	}
	for task, rate := range perTask {
		finalMetrics[fmt.Sprintf("%s_success_rate", task)] = rate
	}
	logging.Success(fmt.Sprintf("Evaluation: %s", logging.FormatMetrics(finalMetrics)))

	if err := o.Tracker.LogMetrics(cfg.TotalSteps, finalMetrics); err != nil {
		logging.Warn(fmt.Sprintf("Tracking metrics failed: %v", err))
	}

	if o.mgr != nil {
		// The final step lands one past TotalSteps so it never collides
		// with a periodic checkpoint.
		finalStep := cfg.TotalSteps + 1
		if err := o.saveCheckpoint(finalStep, finalMetrics, true); err != nil {
			logging.Error(fmt.Sprintf("Final checkpoint failed: %v", err))
			return exitcode.Error
		}
		if err := o.mgr.WaitUntilFinished(); err != nil {
			logging.Error(fmt.Sprintf("Final checkpoint failed: %v", err))
			return exitcode.Error
		}

		if err := o.Tracker.LogArtifact("final", o.mgr.StepDir(finalStep)); err != nil {
			logging.Warn(fmt.Sprintf("Publishing final artifact failed: %v", err))
		}
		if best, err := o.mgr.BestStep(); err == nil {
			if err := o.Tracker.LogArtifact("best", o.mgr.StepDir(best)); err != nil {
				logging.Warn(fmt.Sprintf("Publishing best artifact failed: %v", err))
			}
		}
		if err := o.mgr.Close(); err != nil {
			logging.Error(fmt.Sprintf("Checkpoint close failed: %v", err))
			return exitcode.Error
		}
	}

	if err := o.Tracker.Close(); err != nil {
		logging.Warn(fmt.Sprintf("Tracking close failed: %v", err))
	}

	duration := int(o.now().Sub(o.startTime).Seconds())
	banner.PrintCompletionBanner(cfg.TotalSteps, duration, finalMetrics)
	return exitcode.Success
}
