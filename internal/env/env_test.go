package env

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchrl/metatrain/internal/rng"
)

func testConfig(numEnvs int) Config {
	cfg := DefaultConfig(numEnvs)
	cfg.Horizon = 10
	return cfg
}

// constantAgent always moves in a fixed direction.
type constantAgent struct{ action []float64 }

func (a constantAgent) EvalAction(obs []float64) []float64 { return a.action }

// TestSpawnAssignsTasksRoundRobin validates task assignment and distinct
// sub-environment identities.
func TestSpawnAssignsTasksRoundRobin(t *testing.T) {
	v := Spawn(testConfig(7), rng.NewStream(1))

	states := v.SnapshotState()
	require.Len(t, states, 7)
	assert.Equal(t, "reach-north", states[0].Task)
	assert.Equal(t, "reach-south", states[1].Task)
	assert.Equal(t, "reach-north", states[5].Task, "wraps around after all tasks")

	seen := make(map[string]bool)
	for _, s := range states {
		assert.False(t, seen[s.ID], "sub-environment ids must be unique")
		seen[s.ID] = true
	}
}

// TestEpisodeEndsAtHorizon validates auto-reset and episode accounting.
func TestEpisodeEndsAtHorizon(t *testing.T) {
	cfg := testConfig(2)
	v := Spawn(cfg, rng.NewStream(3))

	actions := [][]float64{{0, 0}, {0, 0}}
	for i := 0; i < cfg.Horizon-1; i++ {
		res := v.Step(actions)
		assert.Zero(t, res.EpisodesEnded)
	}

	res := v.Step(actions)
	assert.Equal(t, 2, res.EpisodesEnded)
	assert.True(t, res.Dones[0])
	assert.True(t, res.Dones[1])

	// Auto-reset starts a fresh episode.
	for _, s := range v.SnapshotState() {
		assert.Zero(t, s.StepCount)
		assert.Zero(t, s.EpisodeReturn)
	}
}

// TestSnapshotRestoreIdenticalTrajectory validates that restoring a
// snapshot (together with the host stream state) reproduces the exact
// subsequent trajectory.
func TestSnapshotRestoreIdenticalTrajectory(t *testing.T) {
	cfg := testConfig(3)
	host := rng.NewStream(11)
	v := Spawn(cfg, host)

	actions := [][]float64{{0.5, -0.5}, {1, 0}, {-1, 1}}
	for i := 0; i < 25; i++ {
		v.Step(actions)
	}

	snapshot := v.SnapshotState()
	hostState := host.State()

	var want []StepResult
	for i := 0; i < 30; i++ {
		want = append(want, v.Step(actions))
	}

	// A second environment spawned from a different stream, then
	// restored, must replay the same steps.
	host2 := rng.NewStream(999)
	v2 := Spawn(cfg, host2)
	require.NoError(t, v2.RestoreState(snapshot))
	host2.SetState(hostState)

	for i := range want {
		got := v2.Step(actions)
		assert.Equal(t, want[i], got, "step %d diverged after restore", i)
	}
}

// TestRestoreStateLengthMismatch validates the joint-restore contract: a
// snapshot for a different vector width is rejected.
func TestRestoreStateLengthMismatch(t *testing.T) {
	v := Spawn(testConfig(2), rng.NewStream(1))
	err := v.RestoreState(make([]SubEnvState, 3))
	assert.Error(t, err)
}

// TestBoxSpaceBounded validates box validity checks.
func TestBoxSpaceBounded(t *testing.T) {
	tests := []struct {
		name  string
		space BoxSpace
		want  bool
	}{
		{name: "valid box", space: BoxSpace{Low: []float64{-1}, High: []float64{1}}, want: true},
		{name: "empty box", space: BoxSpace{}, want: false},
		{name: "mismatched dims", space: BoxSpace{Low: []float64{-1}, High: []float64{1, 2}}, want: false},
		{name: "inverted bounds", space: BoxSpace{Low: []float64{1}, High: []float64{-1}}, want: false},
		{name: "infinite bound", space: BoxSpace{Low: []float64{-1}, High: []float64{math.Inf(1)}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.space.Bounded())
		})
	}
}

// TestEvaluateDeterministic validates that evaluation is a pure function of
// (config, agent, seed) and reports per-task rates for every task.
func TestEvaluateDeterministic(t *testing.T) {
	cfg := testConfig(1)
	agent := constantAgent{action: []float64{0.3, 0.3}}

	s1, r1, per1 := Evaluate(cfg, agent, 4, 17)
	s2, r2, per2 := Evaluate(cfg, agent, 4, 17)

	assert.Equal(t, s1, s2)
	assert.Equal(t, r1, r2)
	assert.Equal(t, per1, per2)
	assert.Len(t, per1, len(cfg.Tasks))
	for task, rate := range per1 {
		assert.Contains(t, cfg.Tasks, task)
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
}
