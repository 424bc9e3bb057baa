package run

import (
	"fmt"

	"github.com/benchrl/metatrain/internal/algorithm"
	"github.com/benchrl/metatrain/internal/env"
	"github.com/benchrl/metatrain/internal/logging"
	"github.com/benchrl/metatrain/internal/rng"
)

// adaptStreamIndex derives the exploration noise stream used to collect
// adaptation rollouts during evaluation, so adaptation never consumes
// training randomness.
const adaptStreamIndex = 0xADA7

// evaluate runs the final policy evaluation. Meta-learning families adapt
// their fast context per task before the policy-only episodes; every other
// family evaluates directly.
func (o *Orchestrator) evaluate() (float64, float64, map[string]float64) {
	meta, ok := o.alg.(algorithm.MetaLearner)
	if !ok {
		return env.Evaluate(o.envs.Config(), o.alg, o.Config.EvalEpisodes, o.Config.Seed)
	}
	return evaluateAdapted(o.envs.Config(), meta, o.Config.ExplorationStd, o.Config.EvalEpisodes, o.Config.Seed)
}

// evaluateAdapted mirrors env.Evaluate for meta-learners: per task the fast
// context is adapted on one exploratory episode and the policy-only episodes
// then run with the adapted context. The context is reset between tasks and
// again afterwards, so the agent leaves evaluation exactly as it entered.
func evaluateAdapted(cfg env.Config, meta algorithm.MetaLearner, explorationStd float64, episodesPerTask int, seed int64) (float64, float64, map[string]float64) {
	noise := rng.NewStream(rng.DeriveState(seed, adaptStreamIndex))

	perTask := make(map[string]float64, len(cfg.Tasks))
	var totalSuccess, totalReturn float64

	for _, task := range cfg.Tasks {
		taskCfg := cfg
		taskCfg.Tasks = []string{task}
		taskCfg.NumEnvs = 1

		meta.ResetContext()
		if err := adaptToTask(taskCfg, meta, explorationStd, noise); err != nil {
			logging.Warn(fmt.Sprintf("Adaptation for task %s failed: %v", task, err))
		}

		success, ret, _ := env.Evaluate(taskCfg, meta, episodesPerTask, seed)
		perTask[task] = success
		totalSuccess += success
		totalReturn += ret
	}
	meta.ResetContext()

	n := float64(len(cfg.Tasks))
	return totalSuccess / n, totalReturn / n, perTask
}

// adaptToTask collects one exploratory episode in the task and feeds it to
// Adapt. Exploration noise comes from the dedicated stream, never from the
// agent's own sampling stream, so beyond the fast context the agent is left
// untouched.
func adaptToTask(cfg env.Config, meta algorithm.MetaLearner, explorationStd float64, noise *rng.Stream) error {
	v := env.Spawn(cfg, noise)
	obs := v.Observations()

	rollout := algorithm.Rollout{NumEnvs: 1}
	for done := false; !done; {
		action := meta.EvalAction(obs[0])
		for r := range action {
			action[r] += explorationStd * noise.NormFloat64()
		}
		res := v.Step([][]float64{action})

		rollout.Observations = append(rollout.Observations, obs[0])
		rollout.Actions = append(rollout.Actions, action)
		rollout.Rewards = append(rollout.Rewards, res.Rewards[0])
		rollout.Dones = append(rollout.Dones, res.Dones[0])

		done = res.Dones[0]
		obs = res.Observations
	}
	return meta.Adapt(rollout)
}
