package cpuspec

import (
	"runtime"
	"testing"

	"github.com/klauspost/cpuid/v2"
	"github.com/stretchr/testify/assert"
)

func TestGetReportsCores(t *testing.T) {
	t.Parallel()

	s := Get()
	assert.NotEmpty(t, s.BrandName)
	assert.Positive(t, s.LogicalCores)
	assert.Positive(t, s.PhysicalCores)
	assert.LessOrEqual(t, s.PhysicalCores, s.LogicalCores)
	assert.Len(t, s.Fields(), 6)
}

func TestFromCPUFallbacks(t *testing.T) {
	t.Parallel()

	s := fromCPU(&cpuid.CPUInfo{})
	assert.Equal(t, runtime.GOARCH, s.BrandName)
	assert.Equal(t, runtime.NumCPU(), s.LogicalCores)
	assert.Equal(t, s.LogicalCores, s.PhysicalCores)
	assert.Empty(t, s.SIMD)
}

func TestString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec Spec
		want string
	}{
		{Spec{BrandName: "Test CPU", PhysicalCores: 4, LogicalCores: 8}, "Test CPU, 4 cores / 8 threads"},
		{
			Spec{BrandName: "Hybrid", PhysicalCores: 14, LogicalCores: 20, Hybrid: true, FrequencyMHz: 2400, SIMD: []string{"SSE2", "AVX2"}},
			"Hybrid, 14 cores / 20 threads (hybrid), 2400 MHz, SSE2 AVX2",
		},
	}
	for _, tt := range tests {
		if got := tt.spec.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
