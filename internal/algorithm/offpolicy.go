package algorithm

import (
	"encoding/json"
	"fmt"

	"github.com/benchrl/metatrain/internal/env"
	"github.com/benchrl/metatrain/internal/rng"
)

// offPolicy is a replay-based actor-critic family: a deterministic linear
// actor, a linear Q critic over (observation, action) features, a Polyak
// target critic, and a persistent replay buffer.
type offPolicy struct {
	obsDim      int
	actDim      int
	actionSpace env.BoxSpace

	lr    float64
	gamma float64
	std   float64
	tau   float64

	// actor is actDim rows of (obsDim+1) weights, bias last. critic and
	// target are (obsDim+actDim+1) weights over joint features.
	actor   []float64
	critic  []float64
	target  []float64
	updates int

	stream *rng.Stream
	buffer *ReplayBuffer
}

func newOffPolicy(cfg Config, obsDim, actDim int, actionSpace env.BoxSpace, stream *rng.Stream, buffer *ReplayBuffer) *offPolicy {
	return &offPolicy{
		obsDim:      obsDim,
		actDim:      actDim,
		actionSpace: actionSpace,
		lr:          cfg.LearningRate,
		gamma:       cfg.Gamma,
		std:         cfg.ExplorationStd,
		tau:         cfg.PolyakTau,
		actor:       make([]float64, actDim*(obsDim+1)),
		critic:      make([]float64, obsDim+actDim+1),
		target:      make([]float64, obsDim+actDim+1),
		stream:      stream,
		buffer:      buffer,
	}
}

func (a *offPolicy) mean(obs []float64) []float64 {
	phi := features(obs)
	out := make([]float64, a.actDim)
	for r := 0; r < a.actDim; r++ {
		row := a.actor[r*(a.obsDim+1) : (r+1)*(a.obsDim+1)]
		var sum float64
		for j, x := range phi {
			sum += row[j] * x
		}
		out[r] = sum
	}
	return out
}

// jointFeatures concatenates observation and action with a bias term.
func jointFeatures(obs, action []float64) []float64 {
	phi := make([]float64, 0, len(obs)+len(action)+1)
	phi = append(phi, obs...)
	phi = append(phi, action...)
	return append(phi, 1)
}

func qValue(weights, phi []float64) float64 {
	var sum float64
	for j, x := range phi {
		sum += weights[j] * x
	}
	return sum
}

func (a *offPolicy) SampleAction(obs []float64) []float64 {
	action := a.mean(obs)
	for i := range action {
		action[i] += a.std * a.stream.NormFloat64()
	}
	return a.actionSpace.Clip(action)
}

func (a *offPolicy) EvalAction(obs []float64) []float64 {
	return a.actionSpace.Clip(a.mean(obs))
}

func (a *offPolicy) Update(batch Batch) (map[string]float64, error) {
	rb, ok := batch.(ReplayBatch)
	if !ok {
		return nil, fmt.Errorf("%w: %s family got %s batch", ErrBatchKindMismatch, FamilyOffPolicy, batch.Kind())
	}
	if len(rb.Rewards) == 0 {
		return nil, fmt.Errorf("empty replay batch")
	}

	n := float64(len(rb.Rewards))
	var criticLoss, meanQ float64

	for i := range rb.Rewards {
		phi := jointFeatures(rb.Observations[i], rb.Actions[i])
		q := qValue(a.critic, phi)

		nextAction := a.actionSpace.Clip(a.mean(rb.NextObservations[i]))
		nextPhi := jointFeatures(rb.NextObservations[i], nextAction)
		targetQ := rb.Rewards[i]
		if !rb.Dones[i] {
			targetQ += a.gamma * qValue(a.target, nextPhi)
		}

		tdErr := targetQ - q
		criticLoss += tdErr * tdErr / n
		meanQ += q / n

		for j, x := range phi {
			a.critic[j] += a.lr * tdErr * x / n
		}

		// Deterministic policy step: push the actor toward actions the
		// critic scores higher, using the critic's action weights as
		// the ascent direction.
		obsPhi := features(rb.Observations[i])
		for r := 0; r < a.actDim; r++ {
			dq := a.critic[a.obsDim+r]
			for j, x := range obsPhi {
				a.actor[r*(a.obsDim+1)+j] += a.lr * dq * x / n
			}
		}
	}

	for j := range a.target {
		a.target[j] = (1-a.tau)*a.target[j] + a.tau*a.critic[j]
	}
	a.updates++

	return map[string]float64{
		"critic_loss": criticLoss,
		"mean_q":      meanQ,
	}, nil
}

func (a *offPolicy) ParameterCounts() map[string]int {
	return map[string]int{
		"actor":         len(a.actor),
		"critic":        len(a.critic),
		"target_critic": len(a.target),
	}
}

func (a *offPolicy) IsOffPolicy() bool { return true }

// Buffer exposes the persistent replay buffer. The buffer is checkpointed
// as its own item, separate from the agent state.
func (a *offPolicy) Buffer() *ReplayBuffer { return a.buffer }

type offPolicyState struct {
	Actor   []float64 `json:"actor"`
	Critic  []float64 `json:"critic"`
	Target  []float64 `json:"target"`
	Updates int       `json:"updates"`
	RNG     uint64    `json:"rng,string"`
}

func (a *offPolicy) Serialize() ([]byte, error) {
	return json.Marshal(offPolicyState{
		Actor:   a.actor,
		Critic:  a.critic,
		Target:  a.target,
		Updates: a.updates,
		RNG:     a.stream.State(),
	})
}

func (a *offPolicy) Deserialize(data []byte) error {
	var st offPolicyState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode agent state: %w", err)
	}
	if len(st.Actor) != len(a.actor) || len(st.Critic) != len(a.critic) {
		return fmt.Errorf("agent state shape mismatch: actor %d/%d, critic %d/%d",
			len(st.Actor), len(a.actor), len(st.Critic), len(a.critic))
	}
	a.actor = st.Actor
	a.critic = st.Critic
	a.target = st.Target
	a.updates = st.Updates
	a.stream.SetState(st.RNG)
	return nil
}
