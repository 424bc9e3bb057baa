// Package env provides the vectorized benchmark environment handle.
//
// The simulation is a family of goal-reaching tasks over a bounded
// continuous box: each sub-environment holds a task-dependent goal, the
// agent's position moves by a scaled action every step, and an episode
// succeeds when the position enters the goal radius before the horizon.
//
// Every sub-environment is individually checkpointable: SnapshotState
// captures position, goal, task, and episode counters as (id, state) pairs,
// and RestoreState rehydrates them so a resumed run continues identically.
// Reset randomness comes from the caller-owned host stream, which is
// checkpointed separately by the RNG manager.
package env

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/benchrl/metatrain/internal/rng"
)

// BoxSpace is a bounded continuous box, the only supported space family.
type BoxSpace struct {
	Low  []float64 `json:"low"`
	High []float64 `json:"high"`
}

// Dim returns the dimensionality of the space.
func (s BoxSpace) Dim() int { return len(s.Low) }

// Bounded reports whether the box is non-empty with finite bounds.
func (s BoxSpace) Bounded() bool {
	if len(s.Low) == 0 || len(s.Low) != len(s.High) {
		return false
	}
	for i := range s.Low {
		if math.IsInf(s.Low[i], 0) || math.IsInf(s.High[i], 0) || s.Low[i] >= s.High[i] {
			return false
		}
	}
	return true
}

// Clip bounds x into the box, in place, and returns it.
func (s BoxSpace) Clip(x []float64) []float64 {
	for i := range x {
		x[i] = math.Max(s.Low[i], math.Min(s.High[i], x[i]))
	}
	return x
}

// Config describes the benchmark suite to spawn.
type Config struct {
	Tasks            []string
	NumEnvs          int
	Horizon          int
	GoalRadius       float64
	ObservationSpace BoxSpace
	ActionSpace      BoxSpace
}

// taskAnchors maps task names to the region goals are sampled around.
var taskAnchors = map[string][2]float64{
	"reach-north": {0, 3},
	"reach-south": {0, -3},
	"reach-east":  {3, 0},
	"reach-west":  {-3, 0},
	"reach-far":   {3, 3},
}

// DefaultConfig returns the standard benchmark configuration: planar
// goal-reaching with a 4-dim observation (position, goal) and a 2-dim
// action in [-1, 1].
func DefaultConfig(numEnvs int) Config {
	return Config{
		Tasks:      []string{"reach-north", "reach-south", "reach-east", "reach-west", "reach-far"},
		NumEnvs:    numEnvs,
		Horizon:    200,
		GoalRadius: 0.25,
		ObservationSpace: BoxSpace{
			Low:  []float64{-5, -5, -5, -5},
			High: []float64{5, 5, 5, 5},
		},
		ActionSpace: BoxSpace{
			Low:  []float64{-1, -1},
			High: []float64{1, 1},
		},
	}
}

// actionScale converts a unit action into position displacement per step.
const actionScale = 0.1

// SubEnvState is everything one sub-environment needs to resume identically.
type SubEnvState struct {
	ID            string    `json:"id"`
	Task          string    `json:"task"`
	Goal          []float64 `json:"goal"`
	Pos           []float64 `json:"pos"`
	StepCount     int       `json:"step_count"`
	EpisodeReturn float64   `json:"episode_return"`
	Succeeded     bool      `json:"succeeded"`
}

// StepResult is the outcome of one vectorized step.
type StepResult struct {
	Observations [][]float64
	Rewards      []float64
	Dones        []bool
	// Successes and Returns report, for sub-environments whose episode
	// ended this step, whether the goal was reached at any point in that
	// episode and the total episodic return.
	Successes     []bool
	Returns       []float64
	EpisodesEnded int
}

type subEnv struct {
	id            string
	task          string
	goal          []float64
	pos           []float64
	stepCount     int
	episodeReturn float64
	succeeded     bool
}

// VecEnv is a handle on a vector of sub-environments.
type VecEnv struct {
	cfg  Config
	host *rng.Stream
	subs []*subEnv
}

// Spawn creates the vectorized environment. Tasks are assigned round-robin
// and initial episodes are reset using the host stream.
func Spawn(cfg Config, host *rng.Stream) *VecEnv {
	v := &VecEnv{cfg: cfg, host: host}
	v.subs = make([]*subEnv, cfg.NumEnvs)
	for i := range v.subs {
		s := &subEnv{
			id:   uuid.NewString(),
			task: cfg.Tasks[i%len(cfg.Tasks)],
		}
		v.reset(s)
		v.subs[i] = s
	}
	return v
}

// NumEnvs returns the number of sub-environments.
func (v *VecEnv) NumEnvs() int { return len(v.subs) }

// Config returns the configuration the environment was spawned with.
func (v *VecEnv) Config() Config { return v.cfg }

func (v *VecEnv) reset(s *subEnv) {
	anchor := taskAnchors[s.task]
	s.goal = []float64{
		anchor[0] + v.host.NormFloat64()*0.5,
		anchor[1] + v.host.NormFloat64()*0.5,
	}
	s.pos = []float64{
		v.host.NormFloat64() * 0.1,
		v.host.NormFloat64() * 0.1,
	}
	s.stepCount = 0
	s.episodeReturn = 0
	s.succeeded = false
}

func (v *VecEnv) observe(s *subEnv) []float64 {
	return []float64{s.pos[0], s.pos[1], s.goal[0], s.goal[1]}
}

// Observations returns the current observation for every sub-environment.
func (v *VecEnv) Observations() [][]float64 {
	obs := make([][]float64, len(v.subs))
	for i, s := range v.subs {
		obs[i] = v.observe(s)
	}
	return obs
}

// Step advances every sub-environment by one action. Finished episodes are
// reset automatically; their final success flag is reported in the result.
func (v *VecEnv) Step(actions [][]float64) StepResult {
	res := StepResult{
		Observations: make([][]float64, len(v.subs)),
		Rewards:      make([]float64, len(v.subs)),
		Dones:        make([]bool, len(v.subs)),
		Successes:    make([]bool, len(v.subs)),
		Returns:      make([]float64, len(v.subs)),
	}

	for i, s := range v.subs {
		act := v.cfg.ActionSpace.Clip(append([]float64(nil), actions[i]...))
		s.pos[0] += act[0] * actionScale
		s.pos[1] += act[1] * actionScale
		s.pos[0] = math.Max(-5, math.Min(5, s.pos[0]))
		s.pos[1] = math.Max(-5, math.Min(5, s.pos[1]))

		dist := math.Hypot(s.pos[0]-s.goal[0], s.pos[1]-s.goal[1])
		reward := -dist
		if dist <= v.cfg.GoalRadius {
			s.succeeded = true
		}

		s.stepCount++
		s.episodeReturn += reward
		res.Rewards[i] = reward

		if s.stepCount >= v.cfg.Horizon {
			res.Dones[i] = true
			res.Successes[i] = s.succeeded
			res.Returns[i] = s.episodeReturn
			res.EpisodesEnded++
			v.reset(s)
		}
		res.Observations[i] = v.observe(s)
	}
	return res
}

// SnapshotState captures the internal state of every sub-environment as
// (id, state) pairs, in position order.
func (v *VecEnv) SnapshotState() []SubEnvState {
	states := make([]SubEnvState, len(v.subs))
	for i, s := range v.subs {
		states[i] = SubEnvState{
			ID:            s.id,
			Task:          s.task,
			Goal:          append([]float64(nil), s.goal...),
			Pos:           append([]float64(nil), s.pos...),
			StepCount:     s.stepCount,
			EpisodeReturn: s.episodeReturn,
			Succeeded:     s.succeeded,
		}
	}
	return states
}

// RestoreState rehydrates every sub-environment from a snapshot. The
// snapshot must cover exactly this environment's sub-environment count.
func (v *VecEnv) RestoreState(states []SubEnvState) error {
	if len(states) != len(v.subs) {
		return fmt.Errorf("environment state has %d sub-environments, want %d", len(states), len(v.subs))
	}
	for i, st := range states {
		s := v.subs[i]
		s.id = st.ID
		s.task = st.Task
		s.goal = append([]float64(nil), st.Goal...)
		s.pos = append([]float64(nil), st.Pos...)
		s.stepCount = st.StepCount
		s.episodeReturn = st.EpisodeReturn
		s.succeeded = st.Succeeded
	}
	return nil
}
