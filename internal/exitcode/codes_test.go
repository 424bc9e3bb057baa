package exitcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestName validates the exit code to name mapping.
func TestName(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{name: "success", code: Success, want: "Success"},
		{name: "generic error", code: Error, want: "Error"},
		{name: "accelerator unavailable", code: AcceleratorUnavailable, want: "AcceleratorUnavailable"},
		{name: "checkpoint corrupt", code: CheckpointCorrupt, want: "CheckpointCorrupt"},
		{name: "unsupported space", code: UnsupportedSpace, want: "UnsupportedSpace"},
		{name: "interrupted", code: Interrupted, want: "Interrupted"},
		{name: "unknown code", code: 99, want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.code))
		})
	}
}

// TestCodeValues pins the numeric values so scripts relying on them
// don't break silently.
func TestCodeValues(t *testing.T) {
	assert.Equal(t, 0, Success)
	assert.Equal(t, 1, Error)
	assert.Equal(t, 2, AcceleratorUnavailable)
	assert.Equal(t, 3, CheckpointCorrupt)
	assert.Equal(t, 4, UnsupportedSpace)
	assert.Equal(t, 130, Interrupted)
}
