package run

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchrl/metatrain/internal/algorithm"
	"github.com/benchrl/metatrain/internal/env"
	"github.com/benchrl/metatrain/internal/exitcode"
)

func testMetaLearner(t *testing.T, envCfg env.Config) algorithm.MetaLearner {
	t.Helper()
	alg, err := algorithm.Initialize(algorithm.Config{
		Family:         algorithm.FamilyMetaLearning,
		LearningRate:   3e-4,
		Gamma:          0.99,
		ExplorationStd: 0.1,
	}, envCfg, 7)
	require.NoError(t, err)
	meta, ok := alg.(algorithm.MetaLearner)
	require.True(t, ok)
	return meta
}

// TestRunMetaLearningCompletes validates the meta-learning family end to
// end, including the adapted per-task evaluation during finalization.
func TestRunMetaLearningCompletes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Algorithm = "metalearning"
	o := testOrchestrator(cfg)

	assert.Equal(t, exitcode.Success, o.Run(context.Background()))
}

// TestEvaluateAdaptedChangesPolicy validates that per-task adaptation
// actually influences the evaluated behavior: the adapted evaluation must
// not coincide with a plain policy-only evaluation of the same agent.
func TestEvaluateAdaptedChangesPolicy(t *testing.T) {
	envCfg := env.DefaultConfig(1)
	meta := testMetaLearner(t, envCfg)

	_, adaptedReturn, _ := evaluateAdapted(envCfg, meta, 0.1, 2, 7)
	_, plainReturn, _ := env.Evaluate(envCfg, meta, 2, 7)

	assert.NotEqual(t, plainReturn, adaptedReturn)
}

// TestEvaluateAdaptedLeavesAgentUntouched validates that the adapted
// evaluation is observationally pure: the fast context is reset afterwards
// and the outer parameters and sampling stream are never consumed.
func TestEvaluateAdaptedLeavesAgentUntouched(t *testing.T) {
	envCfg := env.DefaultConfig(1)
	meta := testMetaLearner(t, envCfg)

	before, err := meta.Serialize()
	require.NoError(t, err)

	evaluateAdapted(envCfg, meta, 0.1, 2, 7)

	after, err := meta.Serialize()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// TestEvaluateAdaptedDeterministic validates that the adapted evaluation is
// reproducible for a fixed agent and seed.
func TestEvaluateAdaptedDeterministic(t *testing.T) {
	envCfg := env.DefaultConfig(1)
	meta := testMetaLearner(t, envCfg)

	s1, r1, p1 := evaluateAdapted(envCfg, meta, 0.1, 2, 7)
	s2, r2, p2 := evaluateAdapted(envCfg, meta, 0.1, 2, 7)

	assert.Equal(t, s1, s2)
	assert.Equal(t, r1, r2)
	assert.Equal(t, p1, p2)
}
