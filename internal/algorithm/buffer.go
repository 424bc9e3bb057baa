package algorithm

import (
	"encoding/json"
	"fmt"

	"github.com/benchrl/metatrain/internal/rng"
)

// ReplayBuffer is a fixed-capacity circular store of past transitions. The
// write cursor, fill count, and the internal sampling RNG are all part of
// the checkpointed state so a resumed run samples the same batches an
// uninterrupted one would have.
type ReplayBuffer struct {
	capacity int
	obsDim   int
	actDim   int

	obs     [][]float64
	actions [][]float64
	nextObs [][]float64
	rewards []float64
	dones   []bool

	cursor int
	size   int
	stream *rng.Stream
}

// NewReplayBuffer returns an empty buffer with its own sampling stream.
func NewReplayBuffer(capacity, obsDim, actDim int, rngState uint64) *ReplayBuffer {
	return &ReplayBuffer{
		capacity: capacity,
		obsDim:   obsDim,
		actDim:   actDim,
		obs:      make([][]float64, capacity),
		actions:  make([][]float64, capacity),
		nextObs:  make([][]float64, capacity),
		rewards:  make([]float64, capacity),
		dones:    make([]bool, capacity),
		stream:   rng.NewStream(rngState),
	}
}

// Len returns the current fill count.
func (b *ReplayBuffer) Len() int { return b.size }

// Capacity returns the fixed capacity.
func (b *ReplayBuffer) Capacity() int { return b.capacity }

// Insert appends one transition, overwriting the oldest when full.
func (b *ReplayBuffer) Insert(obs, action, nextObs []float64, reward float64, done bool) {
	b.obs[b.cursor] = append([]float64(nil), obs...)
	b.actions[b.cursor] = append([]float64(nil), action...)
	b.nextObs[b.cursor] = append([]float64(nil), nextObs...)
	b.rewards[b.cursor] = reward
	b.dones[b.cursor] = done

	b.cursor = (b.cursor + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Sample draws n transitions uniformly with replacement, advancing the
// buffer's internal RNG stream.
func (b *ReplayBuffer) Sample(n int) ReplayBatch {
	batch := ReplayBatch{
		Observations:     make([][]float64, n),
		Actions:          make([][]float64, n),
		NextObservations: make([][]float64, n),
		Rewards:          make([]float64, n),
		Dones:            make([]bool, n),
	}
	for i := 0; i < n; i++ {
		j := b.stream.Intn(b.size)
		batch.Observations[i] = b.obs[j]
		batch.Actions[i] = b.actions[j]
		batch.NextObservations[i] = b.nextObs[j]
		batch.Rewards[i] = b.rewards[j]
		batch.Dones[i] = b.dones[j]
	}
	return batch
}

// bufferState is the serialized form of a ReplayBuffer. Only the filled
// prefix of the circular storage is persisted.
type bufferState struct {
	Capacity int         `json:"capacity"`
	ObsDim   int         `json:"obs_dim"`
	ActDim   int         `json:"act_dim"`
	Obs      [][]float64 `json:"obs"`
	Actions  [][]float64 `json:"actions"`
	NextObs  [][]float64 `json:"next_obs"`
	Rewards  []float64   `json:"rewards"`
	Dones    []bool      `json:"dones"`
	Cursor   int         `json:"cursor"`
	Size     int         `json:"size"`
	RNG      uint64      `json:"rng,string"`
}

// Serialize captures the buffer contents, cursor, fill count, and sampling
// RNG state.
func (b *ReplayBuffer) Serialize() ([]byte, error) {
	st := bufferState{
		Capacity: b.capacity,
		ObsDim:   b.obsDim,
		ActDim:   b.actDim,
		Obs:      b.obs[:b.size],
		Actions:  b.actions[:b.size],
		NextObs:  b.nextObs[:b.size],
		Rewards:  b.rewards[:b.size],
		Dones:    b.dones[:b.size],
		Cursor:   b.cursor,
		Size:     b.size,
		RNG:      b.stream.State(),
	}
	return json.Marshal(st)
}

// Deserialize restores the buffer exactly. The serialized capacity must
// match the buffer's configured capacity.
func (b *ReplayBuffer) Deserialize(data []byte) error {
	var st bufferState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode replay buffer: %w", err)
	}
	if st.Capacity != b.capacity {
		return fmt.Errorf("replay buffer capacity mismatch: checkpoint has %d, configured %d", st.Capacity, b.capacity)
	}

	copy(b.obs, st.Obs)
	copy(b.actions, st.Actions)
	copy(b.nextObs, st.NextObs)
	copy(b.rewards, st.Rewards)
	copy(b.dones, st.Dones)
	b.cursor = st.Cursor
	b.size = st.Size
	b.stream.SetState(st.RNG)
	return nil
}
