package accelerator

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCheckMatchesDetection validates that Check agrees with the low-level
// vector unit detection on the machine running the tests.
func TestCheckMatchesDetection(t *testing.T) {
	err := Check()
	if hasVectorUnit() {
		assert.NoError(t, err)
	} else {
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnavailable))
	}
}

// TestDeviceNameNonEmpty validates that the device description is usable
// for startup logging.
func TestDeviceNameNonEmpty(t *testing.T) {
	assert.NotEmpty(t, DeviceName())
}

// TestVectorUnitNameKnown validates the reported vector unit is one of the
// recognized families.
func TestVectorUnitNameKnown(t *testing.T) {
	name := vectorUnitName()
	switch runtime.GOARCH {
	case "amd64":
		assert.Contains(t, []string{"avx512", "avx2", "avx", "scalar"}, name)
	case "arm64":
		assert.Equal(t, "neon", name)
	default:
		assert.Equal(t, "scalar", name)
	}
}
