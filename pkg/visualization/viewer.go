// Package visualization renders 2D views of normalized volumes and label maps.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"braintumor/internal/models"
)

// LabelPalette maps class ids to overlay colors. Ids past the palette cycle
// through it, skipping background.
var LabelPalette = []color.RGBA{
	{0, 0, 0, 255},     // background
	{255, 64, 64, 255}, // necrotic core
	{64, 200, 64, 255}, // edema
	{255, 220, 0, 255}, // enhancing tumor
	{64, 128, 255, 255},
	{200, 64, 255, 255},
}

// Viewer extracts slices from a row-major (H, W, D) volume.
//
// Axis names follow image conventions: "z" fixes a depth index and yields a
// W x H image, "x" fixes a column and yields D x H, "y" fixes a row and
// yields W x D.
type Viewer struct {
	// volumeData holds intensities in [0, 1]
	volumeData []float32

	// labels holds an optional class map on the same grid
	labels []int32

	shape models.Shape3D
}

// NewViewer creates a viewer over intensities laid out by shape.
func NewViewer(volumeData []float32, shape models.Shape3D) (*Viewer, error) {
	if err := models.CheckShape("viewer", shape); err != nil {
		return nil, err
	}
	if len(volumeData) != shape.Size() {
		return nil, fmt.Errorf("volume has %d values, shape %v needs %d", len(volumeData), shape, shape.Size())
	}
	return &Viewer{volumeData: volumeData, shape: shape}, nil
}

// NewLabelViewer creates a viewer over a class map.
func NewLabelViewer(v *models.ClassLabelVolume) (*Viewer, error) {
	if err := models.CheckShape("viewer", v.Shape); err != nil {
		return nil, err
	}
	if len(v.Labels) != v.Shape.Size() {
		return nil, fmt.Errorf("label map has %d values, shape %v needs %d", len(v.Labels), v.Shape, v.Shape.Size())
	}
	return &Viewer{labels: v.Labels, shape: v.Shape}, nil
}

// Shape returns the volume grid.
func (v *Viewer) Shape() models.Shape3D {
	return v.shape
}

// plane returns the image size for axis and a function mapping image
// coordinates to a flat volume index.
func (v *Viewer) plane(axis string, position int) (int, int, func(x, y int) int, error) {
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}
	s := v.shape

	switch axis {
	case "x", "X":
		if position >= s.Width {
			return 0, 0, nil, fmt.Errorf("position %d exceeds width %d", position, s.Width)
		}
		return s.Depth, s.Height, func(x, y int) int { return s.Index(y, position, x) }, nil
	case "y", "Y":
		if position >= s.Height {
			return 0, 0, nil, fmt.Errorf("position %d exceeds height %d", position, s.Height)
		}
		return s.Width, s.Depth, func(x, y int) int { return s.Index(position, x, y) }, nil
	case "z", "Z":
		if position >= s.Depth {
			return 0, 0, nil, fmt.Errorf("position %d exceeds depth %d", position, s.Depth)
		}
		return s.Width, s.Height, func(x, y int) int { return s.Index(y, x, position) }, nil
	default:
		return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts a 2D grayscale slice along the specified axis.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if v.volumeData == nil {
		return nil, fmt.Errorf("viewer has no intensity volume")
	}
	w, h, index, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			value := math.Max(0, math.Min(1, float64(v.volumeData[index(x, y)])))
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(value * 65535))})
		}
	}
	return img, nil
}

// ExtractLabelSlice extracts a colored slice of the class map.
func (v *Viewer) ExtractLabelSlice(axis string, position int) (*image.RGBA, error) {
	if v.labels == nil {
		return nil, fmt.Errorf("viewer has no label map")
	}
	w, h, index, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, LabelColor(v.labels[index(x, y)]))
		}
	}
	return img, nil
}

// LabelColor returns the palette entry for a class id.
func LabelColor(id int32) color.RGBA {
	if id <= 0 {
		return LabelPalette[0]
	}
	n := int32(len(LabelPalette) - 1)
	return LabelPalette[1+(id-1)%n]
}

// ExtractRegion extracts a 3D subregion starting at (i, j, k), returned in
// row-major order of its own size.
func (v *Viewer) ExtractRegion(start [3]int, size models.Shape3D) ([]float32, error) {
	if v.volumeData == nil {
		return nil, fmt.Errorf("viewer has no intensity volume")
	}
	if start[0] < 0 || start[1] < 0 || start[2] < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if !size.Valid() {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if start[0]+size.Height > v.shape.Height || start[1]+size.Width > v.shape.Width || start[2]+size.Depth > v.shape.Depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float32, size.Size())
	for i := 0; i < size.Height; i++ {
		for j := 0; j < size.Width; j++ {
			src := v.shape.Index(start[0]+i, start[1]+j, start[2])
			copy(region[size.Index(i, j, 0):size.Index(i, j, 0)+size.Depth], v.volumeData[src:src+size.Depth])
		}
	}
	return region, nil
}

// SaveSlice saves an extracted slice as a PNG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
// Label viewers write colored slices. It returns the number of files written.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) (int, error) {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.shape.Width
	case "y", "Y":
		maxPos = v.shape.Height
	case "z", "Z":
		maxPos = v.shape.Depth
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	for pos := 0; pos < maxPos; pos++ {
		var img image.Image
		var err error
		if v.labels != nil {
			img, err = v.ExtractLabelSlice(axis, pos)
		} else {
			img, err = v.ExtractSlice(axis, pos)
		}
		if err != nil {
			return pos, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}
	return maxPos, nil
}
