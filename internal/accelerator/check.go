// Package accelerator performs the pre-flight compute-capability check.
//
// Training aborts before any run state is created when the host lacks the
// vector units the numeric kernels are compiled against. The check runs
// once, before the orchestrator enters its fresh-start or resume path.
package accelerator

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// ErrUnavailable is returned when no supported compute device is found.
var ErrUnavailable = errors.New("no supported accelerator found")

// Check verifies the host exposes a supported vector unit. It returns
// ErrUnavailable (wrapped with the detected CPU) when it does not.
func Check() error {
	if hasVectorUnit() {
		return nil
	}
	return fmt.Errorf("%w: cpu %q (%s/%s)", ErrUnavailable, cpuid.CPU.BrandName, runtime.GOOS, runtime.GOARCH)
}

// DeviceName describes the detected compute device for startup logging.
func DeviceName() string {
	return fmt.Sprintf("%s (%d cores, %s)", cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, vectorUnitName())
}

func hasVectorUnit() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpuid.CPU.Supports(cpuid.AVX2) || cpuid.CPU.Supports(cpuid.AVX)
	case "arm64":
		// NEON is baseline on arm64.
		return true
	default:
		return false
	}
}

func vectorUnitName() string {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		return "avx512"
	case cpuid.CPU.Supports(cpuid.AVX2):
		return "avx2"
	case cpuid.CPU.Supports(cpuid.AVX):
		return "avx"
	case runtime.GOARCH == "arm64":
		return "neon"
	default:
		return "scalar"
	}
}
