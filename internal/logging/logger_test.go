package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFormatDuration validates human-readable duration formatting across
// second, minute, and hour ranges.
func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    string
	}{
		{name: "zero seconds", seconds: 0, want: "0s"},
		{name: "under a minute", seconds: 45, want: "45s"},
		{name: "exactly one minute", seconds: 60, want: "1m 0s"},
		{name: "minute and a half", seconds: 90, want: "1m 30s"},
		{name: "just under an hour", seconds: 3599, want: "59m 59s"},
		{name: "one hour one minute one second", seconds: 3661, want: "1h 1m 1s"},
		{name: "two hours exactly", seconds: 7200, want: "2h 0m 0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.seconds))
		})
	}
}

// TestFormatMetrics validates that metric maps render as sorted key=value
// pairs regardless of map iteration order.
func TestFormatMetrics(t *testing.T) {
	tests := []struct {
		name    string
		metrics map[string]float64
		want    string
	}{
		{
			name:    "empty map",
			metrics: map[string]float64{},
			want:    "",
		},
		{
			name:    "single metric",
			metrics: map[string]float64{"mean_success_rate": 0.5},
			want:    "mean_success_rate=0.5000",
		},
		{
			name: "multiple metrics sorted",
			metrics: map[string]float64{
				"policy_loss":       2,
				"mean_success_rate": 0.25,
			},
			want: "mean_success_rate=0.2500 policy_loss=2.0000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMetrics(tt.metrics))
		})
	}
}
