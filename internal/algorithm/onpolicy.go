package algorithm

import (
	"encoding/json"
	"fmt"

	"github.com/benchrl/metatrain/internal/env"
	"github.com/benchrl/metatrain/internal/rng"
)

// momentumDecay is the optimizer's momentum coefficient.
const momentumDecay = 0.9

// onPolicy is a rollout-based policy-gradient family: a linear Gaussian
// policy with a linear value baseline and a momentum optimizer. It carries
// no persistent state between updates beyond its parameters.
type onPolicy struct {
	obsDim      int
	actDim      int
	actionSpace env.BoxSpace

	lr    float64
	gamma float64
	std   float64

	// policy is actDim rows of (obsDim+1) weights, bias last.
	policy   []float64
	value    []float64
	momentum []float64
	updates  int

	stream *rng.Stream
}

func newOnPolicy(cfg Config, obsDim, actDim int, actionSpace env.BoxSpace, stream *rng.Stream) *onPolicy {
	return &onPolicy{
		obsDim:      obsDim,
		actDim:      actDim,
		actionSpace: actionSpace,
		lr:          cfg.LearningRate,
		gamma:       cfg.Gamma,
		std:         cfg.ExplorationStd,
		policy:      make([]float64, actDim*(obsDim+1)),
		value:       make([]float64, obsDim+1),
		momentum:    make([]float64, actDim*(obsDim+1)),
		stream:      stream,
	}
}

// features appends the bias term to an observation.
func features(obs []float64) []float64 {
	return append(append(make([]float64, 0, len(obs)+1), obs...), 1)
}

func (a *onPolicy) mean(obs []float64) []float64 {
	phi := features(obs)
	out := make([]float64, a.actDim)
	for r := 0; r < a.actDim; r++ {
		row := a.policy[r*(a.obsDim+1) : (r+1)*(a.obsDim+1)]
		var sum float64
		for j, x := range phi {
			sum += row[j] * x
		}
		out[r] = sum
	}
	return out
}

func (a *onPolicy) predictValue(obs []float64) float64 {
	phi := features(obs)
	var sum float64
	for j, x := range phi {
		sum += a.value[j] * x
	}
	return sum
}

func (a *onPolicy) SampleAction(obs []float64) []float64 {
	action := a.mean(obs)
	for i := range action {
		action[i] += a.std * a.stream.NormFloat64()
	}
	return a.actionSpace.Clip(action)
}

func (a *onPolicy) EvalAction(obs []float64) []float64 {
	return a.actionSpace.Clip(a.mean(obs))
}

func (a *onPolicy) Update(batch Batch) (map[string]float64, error) {
	rollout, ok := batch.(Rollout)
	if !ok {
		return nil, fmt.Errorf("%w: %s family got %s batch", ErrBatchKindMismatch, FamilyOnPolicy, batch.Kind())
	}
	return a.updateFromRollout(rollout, a.policy, a.momentum)
}

// updateFromRollout applies one policy and value step from a rollout to the
// given parameter vector. The meta-learning family reuses it for both outer
// parameters and fast context updates.
func (a *onPolicy) updateFromRollout(rollout Rollout, policy, momentum []float64) (map[string]float64, error) {
	if rollout.Len() == 0 {
		return nil, fmt.Errorf("empty rollout")
	}

	if rollout.Returns == nil {
		rollout.Returns = computeReturns(rollout, a.gamma)
	}
	if rollout.Advantages == nil {
		rollout.Advantages = make([]float64, rollout.Len())
		for i := range rollout.Advantages {
			rollout.Advantages[i] = rollout.Returns[i] - a.predictValue(rollout.Observations[i])
		}
	}

	n := float64(rollout.Len())
	grad := make([]float64, len(policy))
	var meanAdv, meanReturn, valueLoss float64

	for i := 0; i < rollout.Len(); i++ {
		phi := features(rollout.Observations[i])
		adv := rollout.Advantages[i]
		mean := a.mean(rollout.Observations[i])

		for r := 0; r < a.actDim; r++ {
			// Score-function direction: advantage-weighted action
			// deviation from the current mean.
			dev := (rollout.Actions[i][r] - mean[r]) / (a.std*a.std + 1e-8)
			for j, x := range phi {
				grad[r*(a.obsDim+1)+j] += adv * dev * x / n
			}
		}

		pred := a.predictValue(rollout.Observations[i])
		tdErr := rollout.Returns[i] - pred
		valueLoss += tdErr * tdErr / n
		for j, x := range phi {
			a.value[j] += a.lr * tdErr * x / n
		}

		meanAdv += adv / n
		meanReturn += rollout.Returns[i] / n
	}

	for i := range policy {
		momentum[i] = momentumDecay*momentum[i] + grad[i]
		policy[i] += a.lr * momentum[i]
	}
	a.updates++

	return map[string]float64{
		"policy_loss":       -meanAdv,
		"value_loss":        valueLoss,
		"mean_batch_return": meanReturn,
	}, nil
}

// computeReturns fills discounted returns per sub-environment column,
// iterating the row-major rollout backwards in time.
func computeReturns(rollout Rollout, gamma float64) []float64 {
	n := rollout.NumEnvs
	if n <= 0 {
		n = 1
	}
	steps := rollout.Len() / n
	returns := make([]float64, rollout.Len())
	carry := make([]float64, n)

	for t := steps - 1; t >= 0; t-- {
		for e := 0; e < n; e++ {
			i := t*n + e
			if rollout.Dones[i] {
				carry[e] = 0
			}
			carry[e] = rollout.Rewards[i] + gamma*carry[e]
			returns[i] = carry[e]
		}
	}
	return returns
}

func (a *onPolicy) ParameterCounts() map[string]int {
	return map[string]int{
		"policy":         len(a.policy),
		"value_function": len(a.value),
	}
}

func (a *onPolicy) IsOffPolicy() bool { return false }

// onPolicyState is the serialized form: learnable parameters, optimizer
// state, and the action-sampling RNG. Shape fields are config-derived and
// rebuilt by Initialize.
type onPolicyState struct {
	Policy   []float64 `json:"policy"`
	Value    []float64 `json:"value"`
	Momentum []float64 `json:"momentum"`
	Updates  int       `json:"updates"`
	RNG      uint64    `json:"rng,string"`
}

func (a *onPolicy) Serialize() ([]byte, error) {
	return json.Marshal(onPolicyState{
		Policy:   a.policy,
		Value:    a.value,
		Momentum: a.momentum,
		Updates:  a.updates,
		RNG:      a.stream.State(),
	})
}

func (a *onPolicy) Deserialize(data []byte) error {
	var st onPolicyState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode agent state: %w", err)
	}
	if len(st.Policy) != len(a.policy) || len(st.Value) != len(a.value) {
		return fmt.Errorf("agent state shape mismatch: policy %d/%d, value %d/%d",
			len(st.Policy), len(a.policy), len(st.Value), len(a.value))
	}
	a.policy = st.Policy
	a.value = st.Value
	a.momentum = st.Momentum
	a.updates = st.Updates
	a.stream.SetState(st.RNG)
	return nil
}
