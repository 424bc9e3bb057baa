package algorithm

import (
	"encoding/json"
	"fmt"

	"github.com/benchrl/metatrain/internal/env"
	"github.com/benchrl/metatrain/internal/rng"
)

// fastLearningRateScale relates the inner adaptation rate to the outer
// learning rate.
const fastLearningRateScale = 10

// metaLearning wraps the on-policy family with a fast per-task context: a
// per-action bias adapted from a small number of rollouts in a new task
// instance. Adapt mutates only the context; Update mutates only the outer
// parameters. The context resets on task switch.
type metaLearning struct {
	*onPolicy
	context []float64
}

func newMetaLearning(cfg Config, obsDim, actDim int, actionSpace env.BoxSpace, stream *rng.Stream) *metaLearning {
	size := cfg.ContextSize
	if size <= 0 {
		size = actDim
	}
	return &metaLearning{
		onPolicy: newOnPolicy(cfg, obsDim, actDim, actionSpace, stream),
		context:  make([]float64, size),
	}
}

func (a *metaLearning) contextBias(r int) float64 {
	return a.context[r%len(a.context)]
}

func (a *metaLearning) SampleAction(obs []float64) []float64 {
	action := a.mean(obs)
	for r := range action {
		action[r] += a.contextBias(r) + a.std*a.stream.NormFloat64()
	}
	return a.actionSpace.Clip(action)
}

func (a *metaLearning) EvalAction(obs []float64) []float64 {
	action := a.mean(obs)
	for r := range action {
		action[r] += a.contextBias(r)
	}
	return a.actionSpace.Clip(action)
}

// Adapt performs the inner adaptation step: an advantage-weighted shift of
// the fast context. Outer parameters are never touched here.
func (a *metaLearning) Adapt(rollout Rollout) error {
	if rollout.Len() == 0 {
		return fmt.Errorf("empty adaptation rollout")
	}
	if rollout.Returns == nil {
		rollout.Returns = computeReturns(rollout, a.gamma)
	}

	n := float64(rollout.Len())
	shift := make([]float64, len(a.context))
	for i := 0; i < rollout.Len(); i++ {
		adv := rollout.Returns[i] - a.predictValue(rollout.Observations[i])
		mean := a.mean(rollout.Observations[i])
		for r := 0; r < a.actDim; r++ {
			dev := rollout.Actions[i][r] - mean[r] - a.contextBias(r)
			shift[r%len(a.context)] += adv * dev / n
		}
	}

	fastLR := a.lr * fastLearningRateScale
	for i := range a.context {
		a.context[i] += fastLR * shift[i]
	}
	return nil
}

// ResetContext clears the fast state for a new task instance.
func (a *metaLearning) ResetContext() {
	for i := range a.context {
		a.context[i] = 0
	}
}

func (a *metaLearning) Update(batch Batch) (map[string]float64, error) {
	rollout, ok := batch.(Rollout)
	if !ok {
		return nil, fmt.Errorf("%w: %s family got %s batch", ErrBatchKindMismatch, FamilyMetaLearning, batch.Kind())
	}
	return a.updateFromRollout(rollout, a.policy, a.momentum)
}

func (a *metaLearning) ParameterCounts() map[string]int {
	counts := a.onPolicy.ParameterCounts()
	counts["context"] = len(a.context)
	return counts
}

type metaLearningState struct {
	Outer   json.RawMessage `json:"outer"`
	Context []float64       `json:"context"`
}

func (a *metaLearning) Serialize() ([]byte, error) {
	outer, err := a.onPolicy.Serialize()
	if err != nil {
		return nil, err
	}
	return json.Marshal(metaLearningState{Outer: outer, Context: a.context})
}

func (a *metaLearning) Deserialize(data []byte) error {
	var st metaLearningState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode agent state: %w", err)
	}
	if len(st.Context) != len(a.context) {
		return fmt.Errorf("agent state shape mismatch: context %d/%d", len(st.Context), len(a.context))
	}
	if err := a.onPolicy.Deserialize(st.Outer); err != nil {
		return err
	}
	a.context = st.Context
	return nil
}
