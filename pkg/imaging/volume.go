package imaging

import (
	"fmt"

	"braintumor/internal/models"
)

// ResizeFunc resizes a single slice.
type ResizeFunc func(samples []float32, cur, target models.Shape2D) ([]float32, error)

// BuildVolume decodes slice images in order, resizes each to the target
// in-plane size, fills the target depth with ReplicateToDepth and returns a
// row-major volume of the target shape. A nil resize uses Resize.
func BuildVolume(images [][]byte, target models.Shape3D, resizeFn ResizeFunc) (*models.Volume, error) {
	if err := models.CheckShape("build volume", target); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("build volume: no slice images")
	}
	if resizeFn == nil {
		resizeFn = Resize
	}

	plane := models.Shape2D{Width: target.Width, Height: target.Height}
	slices := make([]float32, 0, plane.Size()*len(images))
	for i, b := range images {
		samples, w, h, err := Decode(b)
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", i, err)
		}
		resized, err := resizeFn(samples, models.Shape2D{Width: w, Height: h}, plane)
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", i, err)
		}
		slices = append(slices, resized...)
	}

	stacked, err := ReplicateToDepth(slices, plane, target.Depth)
	if err != nil {
		return nil, err
	}
	shape, data := SlicesToVolume(stacked, plane, target.Depth)

	header := models.VolumeHeader{
		DataType:    16,
		BitPix:      32,
		Description: fmt.Sprintf("%d slice image(s)", len(images)),
	}
	header.Dims = [8]int{3, shape.Height, shape.Width, shape.Depth, 1, 1, 1, 1}
	header.PixDim = [8]float64{1, 1, 1, 1, 1, 1, 1, 1}
	return &models.Volume{Header: header, Shape: shape, Data: data}, nil
}
