// Package normalize rescales voxel intensities into [0, 1] with percentile
// clipping and a noise floor.
package normalize

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Default parameters used by Normalize.
const (
	DefaultLowerPercentile = 0.01
	DefaultUpperPercentile = 0.99
	DefaultEpsilon         = 1e-6
	DefaultNoiseFloor      = 0.05
)

// DegenerateInputWarning is reported when the percentile range of a volume is
// below epsilon. Normalization still succeeds using epsilon as the range.
type DegenerateInputWarning struct {
	Low, High float64
}

func (w *DegenerateInputWarning) Error() string {
	return fmt.Sprintf("near-constant intensity: percentile range [%g, %g] is below epsilon", w.Low, w.High)
}

// Report describes one normalization run.
type Report struct {
	// Low and High are the clip bounds taken from the sorted input.
	Low, High float64

	// Mean and StdDev describe the normalized output.
	Mean, StdDev float64

	// Suppressed counts samples zeroed by the noise floor.
	Suppressed int

	// Warning is set for near-constant input.
	Warning *DegenerateInputWarning
}

// Normalizer holds the clipping and noise-floor parameters.
type Normalizer struct {
	LowerPercentile float64
	UpperPercentile float64
	Epsilon         float64
	NoiseFloor      float64
}

// Default returns a Normalizer with the pinned default parameters.
func Default() *Normalizer {
	return &Normalizer{
		LowerPercentile: DefaultLowerPercentile,
		UpperPercentile: DefaultUpperPercentile,
		Epsilon:         DefaultEpsilon,
		NoiseFloor:      DefaultNoiseFloor,
	}
}

// Normalize rescales samples with the default parameters.
func Normalize(samples []float32) []float32 {
	out, _ := Default().Apply(samples)
	return out
}

// NormalizeWithReport is Normalize returning the run report as well.
func NormalizeWithReport(samples []float32) ([]float32, Report) {
	return Default().Apply(samples)
}

// Apply returns a new buffer of the same length as samples:
//
//	low  = sorted[floor(n*lower)], high = sorted[floor(n*upper)]
//	v'   = (clip(v, low, high) - low) / max(high-low, epsilon)
//	v'   = 0 when v' < noiseFloor
//
// samples is not modified.
func (n *Normalizer) Apply(samples []float32) ([]float32, Report) {
	var report Report
	out := make([]float32, len(samples))
	if len(samples) == 0 {
		return out, report
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	low := float64(sorted[percentileIndex(len(sorted), n.LowerPercentile)])
	high := float64(sorted[percentileIndex(len(sorted), n.UpperPercentile)])
	report.Low, report.High = low, high

	span := high - low
	if span < n.Epsilon {
		span = n.Epsilon
		report.Warning = &DegenerateInputWarning{Low: low, High: high}
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		v := math.Min(math.Max(float64(s), low), high)
		v = (v - low) / span
		if v < n.NoiseFloor {
			v = 0
			report.Suppressed++
		}
		out[i] = float32(v)
		values[i] = float64(out[i])
	}

	report.Mean, report.StdDev = stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		report.StdDev = 0
	}
	return out, report
}

// percentileIndex returns floor(n*p) clamped to a valid index.
func percentileIndex(n int, p float64) int {
	i := int(math.Floor(float64(n) * p))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
