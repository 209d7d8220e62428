// Package resample maps volumes between voxel grids.
//
// Nearest-neighbour sampling is the default. It trades accuracy for
// reproducibility: every destination voxel copies exactly one source voxel.
package resample

import (
	"fmt"
	"math"
	"strings"

	"braintumor/internal/models"
)

// Mode selects a resampling method.
type Mode string

const (
	Nearest Mode = "nearest"
	Linear  Mode = "linear"
)

// Func is the signature shared by the resampling methods.
type Func func(samples []float32, current, target models.Shape3D) ([]float32, error)

// New returns the resampling method for mode. An empty mode selects Nearest.
func New(mode Mode) (Func, error) {
	switch Mode(strings.ToLower(string(mode))) {
	case "", Nearest:
		return Resample, nil
	case Linear:
		return Trilinear, nil
	default:
		return nil, fmt.Errorf("unknown resample mode %q (must be %q or %q)", mode, Nearest, Linear)
	}
}

// SourceIndex maps a destination index on an axis of size target onto an
// axis of size current: floor(dest/target * current). The product is taken
// before the division so the result is exact, which makes equal sizes an
// identity mapping.
func SourceIndex(dest, target, current int) int {
	return dest * current / target
}

// Resample maps samples laid out on current onto target with per-axis
// nearest-neighbour lookup. A source index falling outside samples yields 0.
func Resample(samples []float32, current, target models.Shape3D) ([]float32, error) {
	if err := models.CheckShape("resample current", current); err != nil {
		return nil, err
	}
	if err := models.CheckShape("resample target", target); err != nil {
		return nil, err
	}

	out := make([]float32, target.Size())

	// Per-axis lookups are independent, so compute them once.
	srcI := axisMap(target.Height, current.Height)
	srcJ := axisMap(target.Width, current.Width)
	srcK := axisMap(target.Depth, current.Depth)

	idx := 0
	for i := 0; i < target.Height; i++ {
		for j := 0; j < target.Width; j++ {
			base := (srcI[i]*current.Width + srcJ[j]) * current.Depth
			for k := 0; k < target.Depth; k++ {
				src := base + srcK[k]
				if src < len(samples) {
					out[idx] = samples[src]
				}
				idx++
			}
		}
	}
	return out, nil
}

func axisMap(target, current int) []int {
	m := make([]int, target)
	for d := range m {
		m[d] = SourceIndex(d, target, current)
	}
	return m
}

// Trilinear maps samples onto target by trilinear interpolation between the
// eight surrounding source voxels, using pixel-centre alignment and clamping
// at the edges. Missing source samples read as 0.
func Trilinear(samples []float32, current, target models.Shape3D) ([]float32, error) {
	if err := models.CheckShape("resample current", current); err != nil {
		return nil, err
	}
	if err := models.CheckShape("resample target", target); err != nil {
		return nil, err
	}

	at := func(i, j, k int) float64 {
		idx := current.Index(i, j, k)
		if idx < len(samples) {
			return float64(samples[idx])
		}
		return 0
	}

	wi := axisWeights(target.Height, current.Height)
	wj := axisWeights(target.Width, current.Width)
	wk := axisWeights(target.Depth, current.Depth)

	out := make([]float32, target.Size())
	idx := 0
	for i := 0; i < target.Height; i++ {
		a := wi[i]
		for j := 0; j < target.Width; j++ {
			b := wj[j]
			for k := 0; k < target.Depth; k++ {
				c := wk[k]
				v := (1-a.t)*((1-b.t)*((1-c.t)*at(a.lo, b.lo, c.lo)+c.t*at(a.lo, b.lo, c.hi))+
					b.t*((1-c.t)*at(a.lo, b.hi, c.lo)+c.t*at(a.lo, b.hi, c.hi))) +
					a.t*((1-b.t)*((1-c.t)*at(a.hi, b.lo, c.lo)+c.t*at(a.hi, b.lo, c.hi))+
						b.t*((1-c.t)*at(a.hi, b.hi, c.lo)+c.t*at(a.hi, b.hi, c.hi)))
				out[idx] = float32(v)
				idx++
			}
		}
	}
	return out, nil
}

type weight struct {
	lo, hi int
	t      float64
}

func axisWeights(target, current int) []weight {
	w := make([]weight, target)
	scale := float64(current) / float64(target)
	for d := range w {
		pos := (float64(d)+0.5)*scale - 0.5
		pos = math.Max(0, math.Min(pos, float64(current-1)))
		lo := int(math.Floor(pos))
		hi := lo + 1
		if hi > current-1 {
			hi = current - 1
		}
		w[d] = weight{lo: lo, hi: hi, t: pos - float64(lo)}
	}
	return w
}
