package banner

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout redirects stdout for the duration of fn and returns what
// was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = old

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestPrintStartupBanner(t *testing.T) {
	out := captureStdout(t, func() {
		PrintStartupBanner("reach_mt10", "offpolicy", 42, 100000)
	})

	assert.Contains(t, out, "metatrain")
	assert.Contains(t, out, "reach_mt10")
	assert.Contains(t, out, "offpolicy")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "100000")
}

func TestPrintResumeBanner(t *testing.T) {
	out := captureStdout(t, func() {
		PrintResumeBanner("1756000000_reach_mt10_42", 512, 16)
	})

	assert.Contains(t, out, "Resuming from checkpoint")
	assert.Contains(t, out, "1756000000_reach_mt10_42")
	assert.Contains(t, out, "512")
}

func TestPrintInterruptedBanner(t *testing.T) {
	out := captureStdout(t, func() {
		PrintInterruptedBanner(1024)
	})

	assert.Contains(t, out, "interrupted")
	assert.Contains(t, out, "1024")
	assert.Contains(t, out, "--resume")
}

func TestPrintCompletionBanner(t *testing.T) {
	out := captureStdout(t, func() {
		PrintCompletionBanner(100000, 3661, map[string]float64{"mean_success_rate": 0.75})
	})

	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "1h 1m 1s")
	assert.Contains(t, out, "mean_success_rate=0.7500")
}

func TestPrintStatusBanner(t *testing.T) {
	out := captureStdout(t, func() {
		PrintStatusBanner(StatusInfo{
			RunName:       "reach_mt10",
			Seed:          7,
			Step:          2048,
			EpisodesEnded: 64,
			Timestamp:     "1756000000",
		})
	})

	assert.Contains(t, out, "reach_mt10")
	assert.Contains(t, out, "2048")
	assert.Contains(t, out, "1756000000")
}
