package env

import "github.com/benchrl/metatrain/internal/rng"

// Agent is the policy surface evaluation needs: a deterministic action for
// an observation, with no internal state mutation.
type Agent interface {
	EvalAction(obs []float64) []float64
}

// evalStreamIndex derives the evaluation reset stream so evaluation never
// consumes training randomness.
const evalStreamIndex = 0xE7A1

// Evaluate runs policy-only rollouts and reports the mean success rate, the
// mean episodic return, and the per-task success rate. It spawns its own
// single-task environments and never touches training state.
func Evaluate(cfg Config, agent Agent, episodesPerTask int, seed int64) (float64, float64, map[string]float64) {
	stream := rng.NewStream(rng.DeriveState(seed, evalStreamIndex))

	perTask := make(map[string]float64, len(cfg.Tasks))
	var totalSuccesses, totalEpisodes int
	var totalReturn float64

	for _, task := range cfg.Tasks {
		taskCfg := cfg
		taskCfg.Tasks = []string{task}
		taskCfg.NumEnvs = 1

		successes := 0
		for ep := 0; ep < episodesPerTask; ep++ {
			v := Spawn(taskCfg, stream)
			obs := v.Observations()

			var done bool
			var success bool
			var episodeReturn float64
			for !done {
				res := v.Step([][]float64{agent.EvalAction(obs[0])})
				episodeReturn += res.Rewards[0]
				done = res.Dones[0]
				success = res.Successes[0]
				obs = res.Observations
			}
			if success {
				successes++
			}
			totalReturn += episodeReturn
		}

		perTask[task] = float64(successes) / float64(episodesPerTask)
		totalSuccesses += successes
		totalEpisodes += episodesPerTask
	}

	meanSuccess := float64(totalSuccesses) / float64(totalEpisodes)
	meanReturn := totalReturn / float64(totalEpisodes)
	return meanSuccess, meanReturn, perTask
}
