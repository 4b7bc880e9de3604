package kernels

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// SIMD support flags. The gonum engine picks its own code paths; these are
// reported so that model load logs record what the host offered.
var (
	hasAVX2   = cpu.X86.HasAVX2
	hasAVX512 = cpu.X86.HasAVX512F
	hasFMA    = cpu.X86.HasFMA
	hasNEON   = cpu.ARM64.HasASIMD
	hasSDOT   = cpu.ARM64.HasASIMDDP
)

// CPUFeatures returns a short description of the host SIMD capabilities,
// e.g. "amd64 avx2 fma".
func CPUFeatures() string {
	parts := []string{runtime.GOARCH}
	if hasAVX2 {
		parts = append(parts, "avx2")
	}
	if hasAVX512 {
		parts = append(parts, "avx512f")
	}
	if hasFMA {
		parts = append(parts, "fma")
	}
	if hasNEON {
		parts = append(parts, "asimd")
	}
	if hasSDOT {
		parts = append(parts, "asimddp")
	}
	return strings.Join(parts, " ")
}
