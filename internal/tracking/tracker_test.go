package tracking

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMetricsLines(t *testing.T, dir string) []metricsLine {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "metrics.jsonl"))
	require.NoError(t, err)

	var lines []metricsLine
	for _, raw := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var line metricsLine
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		lines = append(lines, line)
	}
	return lines
}

// TestFileTrackerInitWritesConfig validates the tracking-run layout and the
// recorded config.
func TestFileTrackerInitWritesConfig(t *testing.T) {
	base := t.TempDir()
	tr := NewFileTracker(base)
	require.NoError(t, tr.Init("1756000000_run_1", "run", map[string]any{"seed": 1}))
	defer tr.Close()

	assert.Equal(t, filepath.Join(base, "tracking", "1756000000_run_1"), tr.Dir())

	data, err := os.ReadFile(filepath.Join(tr.Dir(), "config.json"))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "1756000000_run_1", record["run_id"])
	assert.Equal(t, "run", record["name"])
}

// TestFileTrackerRequiresRunID validates that an empty run id is rejected.
func TestFileTrackerRequiresRunID(t *testing.T) {
	tr := NewFileTracker(t.TempDir())
	assert.Error(t, tr.Init("", "run", nil))
}

// TestFileTrackerMetricsAppend validates the append-only metrics log,
// including across a close/reopen cycle with the same run id.
func TestFileTrackerMetricsAppend(t *testing.T) {
	base := t.TempDir()

	tr := NewFileTracker(base)
	require.NoError(t, tr.Init("run_1", "run", nil))
	require.NoError(t, tr.LogMetrics(100, map[string]float64{"mean_success_rate": 0.2}))
	require.NoError(t, tr.LogMetrics(200, map[string]float64{"mean_success_rate": 0.4}))
	require.NoError(t, tr.Close())

	// Resume with the same id continues the same log.
	tr2 := NewFileTracker(base)
	require.NoError(t, tr2.Init("run_1", "run", nil))
	require.NoError(t, tr2.LogMetrics(300, map[string]float64{"mean_success_rate": 0.6}))
	require.NoError(t, tr2.Close())

	lines := readMetricsLines(t, tr2.Dir())
	require.Len(t, lines, 3)
	assert.Equal(t, 100, lines[0].Step)
	assert.Equal(t, 300, lines[2].Step)
	assert.Equal(t, 0.6, lines[2].Metrics["mean_success_rate"])
}

// TestFileTrackerLogArtifact validates the recursive snapshot copy and that
// re-publishing a name replaces the previous snapshot.
func TestFileTrackerLogArtifact(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "agent"), []byte("weights-v1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "extra"), []byte("x"), 0644))

	tr := NewFileTracker(t.TempDir())
	require.NoError(t, tr.Init("run_1", "run", nil))
	defer tr.Close()

	require.NoError(t, tr.LogArtifact("final", src))

	got, err := os.ReadFile(filepath.Join(tr.Dir(), "artifacts", "final", "agent"))
	require.NoError(t, err)
	assert.Equal(t, "weights-v1", string(got))

	_, err = os.Stat(filepath.Join(tr.Dir(), "artifacts", "final", "nested", "extra"))
	assert.NoError(t, err)

	// Replace with a smaller snapshot.
	require.NoError(t, os.Remove(filepath.Join(src, "nested", "extra")))
	require.NoError(t, os.WriteFile(filepath.Join(src, "agent"), []byte("weights-v2"), 0644))
	require.NoError(t, tr.LogArtifact("final", src))

	got, err = os.ReadFile(filepath.Join(tr.Dir(), "artifacts", "final", "agent"))
	require.NoError(t, err)
	assert.Equal(t, "weights-v2", string(got))

	_, err = os.Stat(filepath.Join(tr.Dir(), "artifacts", "final", "nested", "extra"))
	assert.True(t, os.IsNotExist(err), "stale artifact contents must be replaced")
}

// TestFileTrackerUninitialized validates that logging before Init fails
// rather than writing to an unknown location.
func TestFileTrackerUninitialized(t *testing.T) {
	tr := NewFileTracker(t.TempDir())
	assert.Error(t, tr.LogMetrics(1, nil))
	assert.Error(t, tr.LogArtifact("final", t.TempDir()))
	assert.NoError(t, tr.Close())
}

// TestNopTracker validates the disabled-tracking path is inert.
func TestNopTracker(t *testing.T) {
	var tr Tracker = Nop{}
	assert.NoError(t, tr.Init("id", "run", nil))
	assert.NoError(t, tr.LogMetrics(1, map[string]float64{"x": 1}))
	assert.NoError(t, tr.LogArtifact("final", "/nonexistent"))
	assert.NoError(t, tr.Close())
}
