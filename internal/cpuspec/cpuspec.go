// Package cpuspec describes the host processor for startup logs and device
// listings. Sample conversion cost depends heavily on SIMD support, so the
// relevant feature flags are reported alongside the core counts.
package cpuspec

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/tphakala/audiostream/internal/logger"
)

// simdFeatures are reported in this order when present.
var simdFeatures = []cpuid.FeatureID{
	cpuid.SSE2, cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.AVX512F, cpuid.FMA3, cpuid.ASIMD,
}

// Spec contains the processor details.
type Spec struct {
	BrandName     string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	Hybrid        bool
	FrequencyMHz  int64
	SIMD          []string
}

// Get returns the processor specification.
func Get() Spec {
	return fromCPU(&cpuid.CPU)
}

func fromCPU(c *cpuid.CPUInfo) Spec {
	s := Spec{
		BrandName:     strings.TrimSpace(c.BrandName),
		Vendor:        c.VendorString,
		PhysicalCores: c.PhysicalCores,
		LogicalCores:  c.LogicalCores,
		Hybrid:        c.Supports(cpuid.HYBRID_CPU),
		FrequencyMHz:  c.Hz / 1_000_000,
	}
	if s.BrandName == "" {
		s.BrandName = runtime.GOARCH
	}
	// Containers and some ARM boards report zero cores.
	if s.LogicalCores <= 0 {
		s.LogicalCores = runtime.NumCPU()
	}
	if s.PhysicalCores <= 0 {
		s.PhysicalCores = s.LogicalCores
	}
	for _, f := range simdFeatures {
		if c.Supports(f) {
			s.SIMD = append(s.SIMD, f.String())
		}
	}
	return s
}

// String renders a one line summary.
func (s Spec) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %d cores / %d threads", s.BrandName, s.PhysicalCores, s.LogicalCores)
	if s.Hybrid {
		b.WriteString(" (hybrid)")
	}
	if s.FrequencyMHz > 0 {
		fmt.Fprintf(&b, ", %d MHz", s.FrequencyMHz)
	}
	if len(s.SIMD) > 0 {
		fmt.Fprintf(&b, ", %s", strings.Join(s.SIMD, " "))
	}
	return b.String()
}

// Fields returns the spec as log fields.
func (s Spec) Fields() []logger.Field {
	return []logger.Field{
		logger.String("cpu", s.BrandName),
		logger.String("vendor", s.Vendor),
		logger.Int("physical_cores", s.PhysicalCores),
		logger.Int("logical_cores", s.LogicalCores),
		logger.Bool("hybrid", s.Hybrid),
		logger.String("simd", strings.Join(s.SIMD, ",")),
	}
}
