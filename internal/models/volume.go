package models

import (
	"encoding/binary"
	"fmt"
)

// Shape3D describes a voxel grid as (height, width, depth).
// Flat buffers using a Shape3D are row-major: depth varies fastest.
type Shape3D struct {
	Height int `json:"height" yaml:"height" toml:"height"`
	Width  int `json:"width" yaml:"width" toml:"width"`
	Depth  int `json:"depth" yaml:"depth" toml:"depth"`
}

// Size returns the number of voxels in the grid.
func (s Shape3D) Size() int {
	return s.Height * s.Width * s.Depth
}

// Valid reports whether every axis is positive.
func (s Shape3D) Valid() bool {
	return s.Height > 0 && s.Width > 0 && s.Depth > 0
}

// Index returns the row-major linear index of voxel (i, j, k).
func (s Shape3D) Index(i, j, k int) int {
	return (i*s.Width+j)*s.Depth + k
}

// Slice returns the shape as a []int in (height, width, depth) order.
func (s Shape3D) Slice() []int {
	return []int{s.Height, s.Width, s.Depth}
}

func (s Shape3D) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Height, s.Width, s.Depth)
}

// ShapeError reports a shape with a non-positive axis.
type ShapeError struct {
	Op    string
	Shape []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: invalid shape %v: every axis must be positive", e.Op, e.Shape)
}

// CheckShape returns a *ShapeError when shape has a non-positive axis.
func CheckShape(op string, shape Shape3D) error {
	if !shape.Valid() {
		return &ShapeError{Op: op, Shape: shape.Slice()}
	}
	return nil
}

// Shape2D describes a raster as (width, height). Flat buffers are row-major
// with x varying fastest.
type Shape2D struct {
	Width  int
	Height int
}

// Size returns the number of pixels.
func (s Shape2D) Size() int {
	return s.Width * s.Height
}

// Valid reports whether both axes are positive.
func (s Shape2D) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

func (s Shape2D) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// VolumeHeader holds the decoded fields of a volumetric file header
// that the rest of the pipeline cares about.
type VolumeHeader struct {
	// DataType is the scalar-type code of the stored samples.
	DataType int

	// BitPix is the declared number of bits per voxel.
	BitPix int

	// Dims holds the dimension count in Dims[0] followed by up to 7 axis sizes.
	Dims [8]int

	// PixDim holds the physical spacing per axis, PixDim[1] being the first spatial axis.
	PixDim [8]float64

	// VoxOffset is the declared byte offset of the voxel payload.
	VoxOffset float64

	// SclSlope and SclInter are the linear scaling coefficients.
	SclSlope float64
	SclInter float64

	// Description is the free-text descrip field with padding removed.
	Description string

	// Magic is the format tag with NUL padding removed.
	Magic string

	// ByteOrder is the byte order the header was read with.
	ByteOrder binary.ByteOrder
}

// Spacing returns the physical voxel size along the three spatial axes.
func (h VolumeHeader) Spacing() (x, y, z float64) {
	return h.PixDim[1], h.PixDim[2], h.PixDim[3]
}

// Volume is a decoded single-channel volume. Data always holds Shape.Size()
// samples converted to float32, regardless of the source encoding.
type Volume struct {
	Header VolumeHeader
	Shape  Shape3D
	Data   []float32
}

// WithData returns a new Volume sharing the header but owning data and shape.
func (v *Volume) WithData(data []float32, shape Shape3D) *Volume {
	return &Volume{
		Header: v.Header,
		Shape:  shape,
		Data:   data,
	}
}

// ToRowMajor reorders a buffer stored with the first axis varying fastest
// (the NIfTI on-disk order) into row-major order for the same shape.
func ToRowMajor(data []float32, shape Shape3D) []float32 {
	out := make([]float32, len(data))
	for i := 0; i < shape.Height; i++ {
		for j := 0; j < shape.Width; j++ {
			for k := 0; k < shape.Depth; k++ {
				src := i + j*shape.Height + k*shape.Height*shape.Width
				if src < len(data) {
					out[shape.Index(i, j, k)] = data[src]
				}
			}
		}
	}
	return out
}

// ToFileOrder is the inverse of ToRowMajor: it lays a row-major buffer out
// with the first axis varying fastest.
func ToFileOrder(data []float32, shape Shape3D) []float32 {
	out := make([]float32, len(data))
	for i := 0; i < shape.Height; i++ {
		for j := 0; j < shape.Width; j++ {
			for k := 0; k < shape.Depth; k++ {
				dst := i + j*shape.Height + k*shape.Height*shape.Width
				if src := shape.Index(i, j, k); src < len(data) && dst < len(out) {
					out[dst] = data[src]
				}
			}
		}
	}
	return out
}

// Resampled returns a volume holding data on a new grid. The header dims
// follow shape and the spacing is scaled so the physical extent is kept.
func (v *Volume) Resampled(data []float32, shape Shape3D) *Volume {
	out := v.WithData(data, shape)
	cur, next := v.Shape.Slice(), shape.Slice()
	if out.Header.Dims[0] < 3 {
		out.Header.Dims[0] = 3
	}
	for a := 0; a < 3; a++ {
		out.Header.Dims[a+1] = next[a]
		if s := v.Header.PixDim[a+1]; s > 0 && next[a] > 0 {
			out.Header.PixDim[a+1] = s * float64(cur[a]) / float64(next[a])
		}
	}
	return out
}

// Tensor4D is a stacked multi-channel tensor in channel-minor layout:
// all channel values of one voxel are contiguous.
type Tensor4D struct {
	Shape    Shape3D
	Channels int
	Data     []float32
}

// At returns the value of channel c at voxel (i, j, k).
func (t *Tensor4D) At(i, j, k, c int) float32 {
	return t.Data[t.Shape.Index(i, j, k)*t.Channels+c]
}

// Dims returns the tensor dimensions (height, width, depth, channels).
func (t *Tensor4D) Dims() []int {
	return []int{t.Shape.Height, t.Shape.Width, t.Shape.Depth, t.Channels}
}

// ClassLabelVolume is a per-voxel class map produced by a model.
type ClassLabelVolume struct {
	Shape  Shape3D
	Labels []int32
}
