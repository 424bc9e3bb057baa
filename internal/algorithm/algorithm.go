// Package algorithm defines the polymorphic contract every algorithm family
// implements, and the concrete on-policy, off-policy, and meta-learning
// families.
//
// The orchestrator treats the per-family update math as a black box: it
// hands a batch to Update and receives metrics back. What it does rely on is
// the family's capability surface (IsOffPolicy, queried once at run start)
// and the checkpoint contract: Serialize/Deserialize must round-trip the
// algorithm's entire internal state, including its private action-sampling
// RNG stream, so a resumed run is bit-for-bit continuable.
package algorithm

import (
	"errors"
	"fmt"

	"github.com/benchrl/metatrain/internal/env"
	"github.com/benchrl/metatrain/internal/rng"
)

var (
	// ErrUnsupportedSpace is returned by Initialize when the environment
	// spaces are not bounded continuous boxes.
	ErrUnsupportedSpace = errors.New("unsupported space: only bounded continuous boxes are supported")

	// ErrBatchKindMismatch is returned by Update when the batch kind does
	// not match the algorithm family. This is a programming-contract
	// violation, not a recoverable runtime condition.
	ErrBatchKindMismatch = errors.New("batch kind mismatch")
)

// Algorithm family names, as they appear in configuration.
const (
	FamilyOnPolicy     = "onpolicy"
	FamilyOffPolicy    = "offpolicy"
	FamilyMetaLearning = "metalearning"
)

// Families lists the supported algorithm family names.
func Families() []string {
	return []string{FamilyOnPolicy, FamilyOffPolicy, FamilyMetaLearning}
}

// BatchKind discriminates the two batch shapes an Update can consume.
type BatchKind int

const (
	KindRollout BatchKind = iota
	KindReplay
)

func (k BatchKind) String() string {
	switch k {
	case KindRollout:
		return "rollout"
	case KindReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// Batch is one update's worth of experience, either a Rollout or a
// ReplayBatch.
type Batch interface {
	Kind() BatchKind
}

// Rollout is a fixed-length batch of on-policy trajectory data, stored
// row-major: index t*NumEnvs+e addresses step t of sub-environment e.
// Returns and Advantages are computed by the consuming algorithm when nil.
type Rollout struct {
	NumEnvs      int
	Observations [][]float64
	Actions      [][]float64
	Rewards      []float64
	Dones        []bool
	Values       []float64
	Returns      []float64
	Advantages   []float64
}

// Kind identifies this batch as on-policy rollout data.
func (Rollout) Kind() BatchKind { return KindRollout }

// Len returns the number of transitions in the rollout.
func (r Rollout) Len() int { return len(r.Rewards) }

// ReplayBatch is a batch of transitions sampled from a replay buffer.
type ReplayBatch struct {
	Observations     [][]float64
	Actions          [][]float64
	NextObservations [][]float64
	Rewards          []float64
	Dones            []bool
}

// Kind identifies this batch as off-policy replay data.
func (ReplayBatch) Kind() BatchKind { return KindReplay }

// Config carries the family selection and the update hyperparameters. The
// hyperparameters are opaque to the orchestrator.
type Config struct {
	Family         string
	LearningRate   float64
	Gamma          float64
	ExplorationStd float64
	PolyakTau      float64
	BufferCapacity int
	ContextSize    int
}

// Algorithm is the shared contract across families. Implementations mutate
// their state in place; the checkpoint contract is that Serialize captures
// everything Update and SampleAction depend on.
type Algorithm interface {
	// SampleAction draws an exploratory action for one observation,
	// advancing the algorithm's internal RNG stream.
	SampleAction(obs []float64) []float64

	// EvalAction returns the deterministic (mode) action. Pure.
	EvalAction(obs []float64) []float64

	// Update consumes one batch and applies the family's update math.
	// The batch kind must match the family.
	Update(batch Batch) (map[string]float64, error)

	// ParameterCounts reports per-component learnable parameter counts,
	// for observability only.
	ParameterCounts() map[string]int

	// Serialize and Deserialize round-trip the full internal state.
	Serialize() ([]byte, error)
	Deserialize(data []byte) error

	// IsOffPolicy reports whether this family carries a persistent
	// replay buffer. Queried once at run start.
	IsOffPolicy() bool
}

// OffPolicyAlgorithm is the capability surface of replay-based families.
type OffPolicyAlgorithm interface {
	Algorithm
	Buffer() *ReplayBuffer
}

// MetaLearner is the capability surface of meta-learning families: Adapt
// mutates only the fast inner state, never the outer parameters.
type MetaLearner interface {
	Algorithm
	Adapt(rollout Rollout) error
	ResetContext()
}

// Stream derivation indices for the seeds consumed at initialization.
const (
	algorithmStreamIndex = 0xA160
	bufferStreamIndex    = 0xB0FF
)

// Initialize builds an algorithm of the configured family, sized from the
// environment's observation/action spaces. It fails with
// ErrUnsupportedSpace when either space is not a bounded continuous box.
func Initialize(cfg Config, envCfg env.Config, seed int64) (Algorithm, error) {
	if !envCfg.ObservationSpace.Bounded() || !envCfg.ActionSpace.Bounded() {
		return nil, ErrUnsupportedSpace
	}

	obsDim := envCfg.ObservationSpace.Dim()
	actDim := envCfg.ActionSpace.Dim()
	stream := rng.NewStream(rng.DeriveState(seed, algorithmStreamIndex))

	switch cfg.Family {
	case FamilyOnPolicy:
		return newOnPolicy(cfg, obsDim, actDim, envCfg.ActionSpace, stream), nil
	case FamilyOffPolicy:
		buffer := NewReplayBuffer(cfg.BufferCapacity, obsDim, actDim, rng.DeriveState(seed, bufferStreamIndex))
		return newOffPolicy(cfg, obsDim, actDim, envCfg.ActionSpace, stream, buffer), nil
	case FamilyMetaLearning:
		return newMetaLearning(cfg, obsDim, actDim, envCfg.ActionSpace, stream), nil
	default:
		return nil, fmt.Errorf("unknown algorithm family %q (supported: %v)", cfg.Family, Families())
	}
}
