// Package rng owns deterministic seeding and serializable snapshot/restore
// of every randomness source used outside the numeric kernels.
//
// Two independent streams exist: the general-purpose stream feeds host-side
// bookkeeping (environment resets, task sampling), while the accelerator
// stream feeds device-visible draws. Keeping them separate stops device
// scheduling effects from leaking into host-visible random sequences.
//
// Streams are built on an explicit splitmix64 source so the full generator
// state is one word that can be checkpointed and restored exactly: after a
// Restore, the next draw from either stream is bit-identical to what it
// would have produced had the process never stopped.
package rng

import (
	"math/rand"
)

// splitmixGamma is the Weyl sequence increment of splitmix64.
const splitmixGamma = 0x9E3779B97F4A7C15

// source is a splitmix64 generator. Its entire state is one uint64.
type source struct {
	state uint64
}

func (s *source) Uint64() uint64 {
	s.state += splitmixGamma
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func (s *source) Int63() int64 {
	return int64(s.Uint64() >> 1)
}

func (s *source) Seed(seed int64) {
	s.state = uint64(seed)
}

// Stream is a serializable random stream. All derived draws (Float64,
// NormFloat64, Intn, ...) are pure functions of the underlying source, so
// capturing the source state captures the whole stream.
//
// Stream deliberately does not expose Read: rand.Rand buffers partial words
// for Read, and that buffer would not survive a snapshot.
type Stream struct {
	src *source
	r   *rand.Rand
}

// NewStream returns a stream whose source state is the given word.
func NewStream(state uint64) *Stream {
	src := &source{state: state}
	return &Stream{src: src, r: rand.New(src)}
}

// State returns the current source state.
func (s *Stream) State() uint64 { return s.src.state }

// SetState overwrites the source state.
func (s *Stream) SetState(state uint64) { s.src.state = state }

// Uint64 draws a full random word.
func (s *Stream) Uint64() uint64 { return s.src.Uint64() }

// Float64 draws a uniform value in [0, 1).
func (s *Stream) Float64() float64 { return s.r.Float64() }

// NormFloat64 draws a standard normal value.
func (s *Stream) NormFloat64() float64 { return s.r.NormFloat64() }

// Intn draws a uniform integer in [0, n).
func (s *Stream) Intn(n int) int { return s.r.Intn(n) }

// Perm draws a random permutation of [0, n).
func (s *Stream) Perm(n int) []int { return s.r.Perm(n) }

// Snapshot captures the state of both streams. The uint64 states are
// serialized as strings: JSON numbers lose precision above 2^53.
type Snapshot struct {
	General     uint64 `json:"general_purpose_rng_state,string"`
	Accelerator uint64 `json:"accelerator_rng_state,string"`
}

// Manager owns the two process-wide streams.
type Manager struct {
	General     *Stream
	Accelerator *Stream
}

// NewManager returns a manager seeded from the given integer. Both streams
// are derived deterministically but land on unrelated state words.
func NewManager(seed int64) *Manager {
	m := &Manager{
		General:     NewStream(0),
		Accelerator: NewStream(0),
	}
	m.Seed(seed)
	return m
}

// Seed derives both stream states deterministically from one integer.
func (m *Manager) Seed(seed int64) {
	boot := source{state: uint64(seed)}
	m.General.SetState(boot.Uint64())
	m.Accelerator.SetState(boot.Uint64())
}

// DeriveState produces an independent state word from a seed and a stream
// index, for collaborators that own their own stream (algorithm keys,
// evaluation environments).
func DeriveState(seed int64, index uint64) uint64 {
	boot := source{state: uint64(seed) ^ (index * splitmixGamma)}
	return boot.Uint64()
}

// Snapshot captures the current state of both streams without consuming
// randomness.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		General:     m.General.State(),
		Accelerator: m.Accelerator.State(),
	}
}

// Restore sets both streams back exactly to the captured states.
func (m *Manager) Restore(s Snapshot) {
	m.General.SetState(s.General)
	m.Accelerator.SetState(s.Accelerator)
}
