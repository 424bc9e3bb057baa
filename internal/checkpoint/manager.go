// Package checkpoint implements the versioned, append-only checkpoint store.
//
// A run's checkpoints live under one root directory. Each saved step is a
// directory named step_<N> holding one file per named item plus a metrics
// sidecar used by the retention policy. Steps are staged in a .tmp directory
// and renamed into place, so a step directory exists if and only if every
// item in it was written completely: partially written steps are never
// visible to LatestStep, Restore, or retention.
//
// Saves run asynchronously. WaitUntilFinished is the durability barrier that
// must be awaited before anything external reads the step's files.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Item names. The slot set for a run is fixed at Open time by the algorithm
// family and never reinterpreted at restore time.
const (
	ItemAgent     = "agent"
	ItemEnvStates = "env_states"
	ItemRNGs      = "rngs"
	ItemMetadata  = "metadata"
	ItemBuffer    = "buffer"
)

var (
	// ErrNoCheckpoint is returned when an operation needs an existing
	// checkpoint and none is retained. Expected and benign when probing
	// a fresh run.
	ErrNoCheckpoint = errors.New("no checkpoint found")

	// ErrCorrupt is returned when a requested item is missing or
	// unreadable for a step. Fatal during resume: there is no silent
	// fallback to a fresh start.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

const (
	stepPrefix  = "step_"
	tmpSuffix   = ".tmp"
	metricsFile = "_metrics.json"
	finalMarker = "_final"
)

// Metadata is the small per-step record saved under the "metadata" item.
// Timestamp anchors the tracking-run id across resumes of the same run.
type Metadata struct {
	Timestamp     string `json:"timestamp"`
	Step          int    `json:"step"`
	EpisodesEnded int    `json:"episodes_ended"`
}

// Bundle is one step's labeled set of opaque serialized items.
type Bundle map[string][]byte

// Options configures retention for a Manager.
type Options struct {
	// MaxToKeep bounds the retained step count. The best step counts
	// toward the bound; a final step is kept beyond it. Zero or negative
	// disables pruning.
	MaxToKeep int

	// BestFn selects the retention metric from a step's metrics map.
	// Nil disables best-step retention.
	BestFn func(metrics map[string]float64) float64
}

// Manager is a handle on one run's checkpoint root.
type Manager struct {
	root      string
	itemNames []string
	opts      Options

	// mu guards pinned and serializes pruning against restores.
	mu     sync.Mutex
	pinned map[int]int

	// saveMu serializes asynchronous writes: no two saves for the same
	// handle are ever in flight concurrently.
	saveMu sync.Mutex
	wg     sync.WaitGroup

	errMu    sync.Mutex
	saveErrs []error
}

// Open returns a Manager rooted at rootPath, creating the root if absent.
// Idempotent: opening an existing root is the normal resume path.
func Open(rootPath string, itemNames []string, opts Options) (*Manager, error) {
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint root: %w", err)
	}
	return &Manager{
		root:      rootPath,
		itemNames: append([]string(nil), itemNames...),
		opts:      opts,
		pinned:    make(map[int]int),
	}, nil
}

// Root returns the checkpoint root directory.
func (m *Manager) Root() string { return m.root }

// StepDir returns the on-disk directory for a step. The caller must have
// awaited WaitUntilFinished before handing this path to an external reader.
func (m *Manager) StepDir(step int) string {
	return filepath.Join(m.root, fmt.Sprintf("%s%010d", stepPrefix, step))
}

// LatestStep returns the highest valid step, or false if no checkpoint
// exists yet. A step is valid when every item in the manager's slot set is
// present.
func (m *Manager) LatestStep() (int, bool) {
	steps := m.listSteps()
	if len(steps) == 0 {
		return 0, false
	}
	return steps[len(steps)-1], true
}

// Save writes all items for a step asynchronously, then evaluates retention.
// It blocks until any previous save has finished, never running two writes
// concurrently, and returns immediately after staging the new one. Errors
// from the asynchronous write surface on the next Save or WaitUntilFinished.
//
// The items must cover exactly the slot set fixed at Open time; a mismatch
// is a programming error reported synchronously.
func (m *Manager) Save(step int, items Bundle, metrics map[string]float64) error {
	return m.save(step, items, metrics, false)
}

// SaveFinal is Save with the step additionally marked final. Final steps are
// never evicted by retention.
func (m *Manager) SaveFinal(step int, items Bundle, metrics map[string]float64) error {
	return m.save(step, items, metrics, true)
}

func (m *Manager) save(step int, items Bundle, metrics map[string]float64, final bool) error {
	if err := m.validateItems(items); err != nil {
		return err
	}

	// Waits for the previous in-flight save; unlocked by the goroutine.
	m.saveMu.Lock()

	// Surface any earlier asynchronous failure before accepting more work.
	if err := m.takeErrors(); err != nil {
		m.saveMu.Unlock()
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.saveMu.Unlock()

		if err := m.writeStep(step, items, metrics, final); err != nil {
			m.recordError(fmt.Errorf("save step %d: %w", step, err))
			return
		}
		// Retention runs only after the write is durable, never before.
		if err := m.prune(); err != nil {
			m.recordError(fmt.Errorf("prune after step %d: %w", step, err))
		}
	}()

	return nil
}

// WaitUntilFinished blocks until all outstanding asynchronous writes are
// durable and returns any error they produced.
func (m *Manager) WaitUntilFinished() error {
	m.wg.Wait()
	return m.takeErrors()
}

// Close waits for outstanding writes and releases the handle.
func (m *Manager) Close() error {
	return m.WaitUntilFinished()
}

// Restore reads the requested item subset for a step. Restoring only
// {"metadata"} is cheap and never touches large items. Any requested item
// that is missing or unreadable yields ErrCorrupt.
//
// The step is pinned for the duration of the call: retention will not evict
// a step undergoing restore.
func (m *Manager) Restore(step int, items []string) (Bundle, error) {
	m.pin(step)
	defer m.unpin(step)

	dir := m.StepDir(step)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("step %d: %w", step, ErrNoCheckpoint)
	}

	bundle := make(Bundle, len(items))
	for _, name := range items {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("step %d item %q: %w", step, name, ErrCorrupt)
		}
		bundle[name] = data
	}
	return bundle, nil
}

// RestoreMetadata reads and decodes only the metadata item for a step.
func (m *Manager) RestoreMetadata(step int) (*Metadata, error) {
	bundle, err := m.Restore(step, []string{ItemMetadata})
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(bundle[ItemMetadata], &meta); err != nil {
		return nil, fmt.Errorf("step %d metadata: %w", step, ErrCorrupt)
	}
	return &meta, nil
}

// BestStep returns the retained step with the maximum retention metric.
// Ties favor the most recent step. Returns ErrNoCheckpoint when no step
// with metrics is retained.
func (m *Manager) BestStep() (int, error) {
	best, ok := m.bestStep(m.listSteps())
	if !ok {
		return 0, ErrNoCheckpoint
	}
	return best, nil
}

// Metrics reads the retention metrics recorded for a step.
func (m *Manager) Metrics(step int) (map[string]float64, error) {
	data, err := os.ReadFile(filepath.Join(m.StepDir(step), metricsFile))
	if err != nil {
		return nil, fmt.Errorf("step %d metrics: %w", step, ErrCorrupt)
	}
	var metrics map[string]float64
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("step %d metrics: %w", step, ErrCorrupt)
	}
	return metrics, nil
}

func (m *Manager) validateItems(items Bundle) error {
	if len(items) != len(m.itemNames) {
		return fmt.Errorf("expected items %v, got %d items", m.itemNames, len(items))
	}
	for _, name := range m.itemNames {
		if _, ok := items[name]; !ok {
			return fmt.Errorf("missing item %q in save bundle", name)
		}
	}
	return nil
}

func (m *Manager) writeStep(step int, items Bundle, metrics map[string]float64, final bool) error {
	dir := m.StepDir(step)
	tmp := dir + tmpSuffix

	// A leftover staging directory from a crashed run is discarded.
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return err
	}

	for name, data := range items {
		if err := os.WriteFile(filepath.Join(tmp, name), data, 0644); err != nil {
			return err
		}
	}

	metricsData, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmp, metricsFile), metricsData, 0644); err != nil {
		return err
	}

	if final {
		if err := os.WriteFile(filepath.Join(tmp, finalMarker), nil, 0644); err != nil {
			return err
		}
	}

	// Re-saving an existing step supersedes it.
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(tmp, dir)
}

// prune enforces retention: the newest steps up to MaxToKeep, where the
// best step always occupies one slot, plus every final step. Pinned steps
// are skipped for the duration of their restore.
func (m *Manager) prune() error {
	if m.opts.MaxToKeep <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	steps := m.listSteps()
	if len(steps) <= m.opts.MaxToKeep {
		return nil
	}

	keep := make(map[int]bool, m.opts.MaxToKeep)
	if best, ok := m.bestStep(steps); ok {
		keep[best] = true
	}
	for i := len(steps) - 1; i >= 0 && len(keep) < m.opts.MaxToKeep; i-- {
		keep[steps[i]] = true
	}

	for _, step := range steps {
		if keep[step] || m.pinned[step] > 0 || m.isFinal(step) {
			continue
		}
		if err := os.RemoveAll(m.StepDir(step)); err != nil {
			return err
		}
	}
	return nil
}

// bestStep scans steps in ascending order with >= comparison so that equal
// metric values favor the most recent step.
func (m *Manager) bestStep(steps []int) (int, bool) {
	if m.opts.BestFn == nil {
		return 0, false
	}
	best := 0
	bestVal := 0.0
	found := false
	for _, step := range steps {
		metrics, err := m.Metrics(step)
		if err != nil {
			continue
		}
		v := m.opts.BestFn(metrics)
		if !found || v >= bestVal {
			best, bestVal, found = step, v, true
		}
	}
	return best, found
}

func (m *Manager) isFinal(step int) bool {
	_, err := os.Stat(filepath.Join(m.StepDir(step), finalMarker))
	return err == nil
}

// listSteps returns all valid step numbers in ascending order. Staging
// directories and steps missing any slot item are excluded.
func (m *Manager) listSteps() []int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil
	}

	var steps []int
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, stepPrefix) || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		step, err := strconv.Atoi(strings.TrimPrefix(name, stepPrefix))
		if err != nil {
			continue
		}
		if !m.stepComplete(step) {
			continue
		}
		steps = append(steps, step)
	}
	sort.Ints(steps)
	return steps
}

func (m *Manager) stepComplete(step int) bool {
	dir := m.StepDir(step)
	for _, name := range m.itemNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

func (m *Manager) pin(step int) {
	m.mu.Lock()
	m.pinned[step]++
	m.mu.Unlock()
}

func (m *Manager) unpin(step int) {
	m.mu.Lock()
	m.pinned[step]--
	if m.pinned[step] <= 0 {
		delete(m.pinned, step)
	}
	m.mu.Unlock()
}

func (m *Manager) recordError(err error) {
	m.errMu.Lock()
	m.saveErrs = append(m.saveErrs, err)
	m.errMu.Unlock()
}

func (m *Manager) takeErrors() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	err := errors.Join(m.saveErrs...)
	m.saveErrs = nil
	return err
}
