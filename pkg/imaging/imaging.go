// Package imaging turns 2-D raster slices into grayscale sample buffers and
// stacks them along a synthetic depth axis, for inputs that arrive as slice
// images instead of volumes.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"braintumor/internal/models"
	"braintumor/pkg/resample"
)

// Luminance weights applied to 8-bit RGB channels.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Decode decodes a raster image (JPEG, PNG, GIF, BMP, TIFF or WebP) into a
// row-major grayscale buffer normalized to [0, 1].
func Decode(b []byte) (samples []float32, width, height int, err error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}
	samples, width, height = Grayscale(img)
	return samples, width, height, nil
}

// Grayscale converts img with 0.299R + 0.587G + 0.114B over 8-bit channels,
// divided by 255.
func Grayscale(img image.Image) (samples []float32, width, height int) {
	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()
	samples = make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			l := lumaR*float64(r>>8) + lumaG*float64(g>>8) + lumaB*float64(b>>8)
			samples[y*width+x] = float32(math.Min(l/255, 1))
		}
	}
	return samples, width, height
}

// Resize maps samples from cur to target with the nearest-neighbour rule of
// the volume resampler, applied to the x and y axes. Missing source samples
// read as 0.
func Resize(samples []float32, cur, target models.Shape2D) ([]float32, error) {
	if !cur.Valid() || !target.Valid() {
		return nil, &models.ShapeError{Op: "resize", Shape: []int{cur.Width, cur.Height, target.Width, target.Height}}
	}
	out := make([]float32, target.Size())
	for y := 0; y < target.Height; y++ {
		sy := resample.SourceIndex(y, target.Height, cur.Height)
		for x := 0; x < target.Width; x++ {
			sx := resample.SourceIndex(x, target.Width, cur.Width)
			if src := sy*cur.Width + sx; src < len(samples) {
				out[y*target.Width+x] = samples[src]
			}
		}
	}
	return out, nil
}

// ResizeSmooth resizes with bilinear filtering. Values are quantized to
// 16 bits on the way through the filter.
func ResizeSmooth(samples []float32, cur, target models.Shape2D) ([]float32, error) {
	if !cur.Valid() || !target.Valid() {
		return nil, &models.ShapeError{Op: "resize", Shape: []int{cur.Width, cur.Height, target.Width, target.Height}}
	}
	src := image.NewGray16(image.Rect(0, 0, cur.Width, cur.Height))
	for i := 0; i < cur.Size() && i < len(samples); i++ {
		v := math.Max(0, math.Min(1, float64(samples[i])))
		src.SetGray16(i%cur.Width, i/cur.Width, color.Gray16{Y: uint16(math.Round(v * 65535))})
	}

	dst := resize.Resize(uint(target.Width), uint(target.Height), src, resize.Bilinear)
	bounds := dst.Bounds()
	out := make([]float32, target.Size())
	for y := 0; y < target.Height; y++ {
		for x := 0; x < target.Width; x++ {
			g := color.Gray16Model.Convert(dst.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			out[y*target.Width+x] = float32(g.Y) / 65535
		}
	}
	return out, nil
}

// ReplicateToDepth builds depth slices from the slices held in samples (each
// wh.Size() values, stored one after another). The output keeps that
// slice-major layout:
//
//   - one slice is copied to every depth level;
//   - at least depth slices are cycled through by depth index modulo count;
//   - fewer slices are linearly interpolated at fractional position
//     d*(count-1)/(depth-1).
func ReplicateToDepth(samples []float32, wh models.Shape2D, depth int) ([]float32, error) {
	if !wh.Valid() || depth <= 0 {
		return nil, &models.ShapeError{Op: "replicate", Shape: []int{wh.Width, wh.Height, depth}}
	}
	plane := wh.Size()
	count := len(samples) / plane
	if count == 0 {
		return nil, fmt.Errorf("replicate: %d samples hold no complete %v slice", len(samples), wh)
	}
	slice := func(s int) []float32 {
		return samples[s*plane : (s+1)*plane]
	}

	out := make([]float32, plane*depth)
	for d := 0; d < depth; d++ {
		dst := out[d*plane : (d+1)*plane]
		switch {
		case count == 1:
			copy(dst, slice(0))
		case count >= depth:
			copy(dst, slice(d%count))
		default:
			pos := 0.0
			if depth > 1 {
				pos = float64(d) * float64(count-1) / float64(depth-1)
			}
			lo := int(math.Floor(pos))
			hi := lo + 1
			if hi > count-1 {
				hi = count - 1
			}
			t := float32(pos - float64(lo))
			a, b := slice(lo), slice(hi)
			for p := range dst {
				dst[p] = a[p]*(1-t) + b[p]*t
			}
		}
	}
	return out, nil
}

// SlicesToVolume transposes slice-major data (depth outermost, then y, then x)
// into a row-major volume of shape (height, width, depth).
func SlicesToVolume(samples []float32, wh models.Shape2D, depth int) (models.Shape3D, []float32) {
	shape := models.Shape3D{Height: wh.Height, Width: wh.Width, Depth: depth}
	out := make([]float32, shape.Size())
	plane := wh.Size()
	for d := 0; d < depth; d++ {
		for y := 0; y < wh.Height; y++ {
			for x := 0; x < wh.Width; x++ {
				if src := d*plane + y*wh.Width + x; src < len(samples) {
					out[shape.Index(y, x, d)] = samples[src]
				}
			}
		}
	}
	return shape, out
}
