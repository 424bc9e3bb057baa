// Package tracking records experiment runs for later inspection. The file
// tracker writes one directory per tracking-run id holding the resolved
// config, an append-only metrics log, and published artifact snapshots.
//
// Tracking is best-effort: callers log failures and keep training. A lost
// metrics line must never cost a training run.
package tracking

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Tracker is the experiment tracking surface used by the run orchestrator.
type Tracker interface {
	// Init opens (or reopens, on resume) the tracking run with the given
	// id and records the resolved configuration.
	Init(runID, name string, config map[string]any) error

	// LogMetrics appends one step's scalar metrics.
	LogMetrics(step int, metrics map[string]float64) error

	// LogArtifact publishes a snapshot of dir under the given name.
	LogArtifact(name, dir string) error

	Close() error
}

// Nop is the tracker used when tracking is disabled.
type Nop struct{}

func (Nop) Init(string, string, map[string]any) error { return nil }
func (Nop) LogMetrics(int, map[string]float64) error  { return nil }
func (Nop) LogArtifact(string, string) error          { return nil }
func (Nop) Close() error                              { return nil }

// FileTracker writes tracking data under <baseDir>/tracking/<runID>/.
type FileTracker struct {
	baseDir string
	runDir  string
	metrics *os.File
}

// NewFileTracker returns a tracker rooted at baseDir. Nothing is written
// until Init.
func NewFileTracker(baseDir string) *FileTracker {
	return &FileTracker{baseDir: baseDir}
}

// Dir returns the tracking-run directory. Empty before Init.
func (t *FileTracker) Dir() string { return t.runDir }

func (t *FileTracker) Init(runID, name string, config map[string]any) error {
	if runID == "" {
		return fmt.Errorf("tracking run id is empty")
	}
	t.runDir = filepath.Join(t.baseDir, "tracking", runID)
	if err := os.MkdirAll(filepath.Join(t.runDir, "artifacts"), 0755); err != nil {
		return fmt.Errorf("create tracking run dir: %w", err)
	}

	record := map[string]any{"run_id": runID, "name": name, "config": config}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tracking config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(t.runDir, "config.json"), data, 0644); err != nil {
		return fmt.Errorf("write tracking config: %w", err)
	}

	// Append mode: resuming the same run id continues the metrics log.
	f, err := os.OpenFile(filepath.Join(t.runDir, "metrics.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open metrics log: %w", err)
	}
	t.metrics = f
	return nil
}

type metricsLine struct {
	Step    int                `json:"step"`
	Metrics map[string]float64 `json:"metrics"`
}

func (t *FileTracker) LogMetrics(step int, metrics map[string]float64) error {
	if t.metrics == nil {
		return fmt.Errorf("tracker not initialized")
	}
	data, err := json.Marshal(metricsLine{Step: step, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if _, err := t.metrics.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append metrics: %w", err)
	}
	return nil
}

// LogArtifact copies dir recursively into the run's artifacts directory.
// Re-publishing a name replaces the previous snapshot.
func (t *FileTracker) LogArtifact(name, dir string) error {
	if t.runDir == "" {
		return fmt.Errorf("tracker not initialized")
	}
	dst := filepath.Join(t.runDir, "artifacts", name)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("replace artifact %s: %w", name, err)
	}
	if err := copyTree(dir, dst); err != nil {
		return fmt.Errorf("publish artifact %s: %w", name, err)
	}
	return nil
}

func (t *FileTracker) Close() error {
	if t.metrics == nil {
		return nil
	}
	err := t.metrics.Close()
	t.metrics = nil
	return err
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s := filepath.Join(src, e.Name())
		d := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(s, d); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(s, d); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
