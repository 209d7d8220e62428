// Package inference is the boundary to the segmentation model. The model is
// opaque: it takes a stacked tensor and returns a per-voxel class map.
// Backends are chosen by configuration; none of them falls back to another.
package inference

import (
	"context"
	"fmt"
	"strings"

	"braintumor/internal/models"
)

// Model predicts a class label volume from a stacked modality tensor.
type Model interface {
	Name() string
	Predict(ctx context.Context, t *models.Tensor4D) (*models.ClassLabelVolume, error)
}

// Closer is implemented by models holding native resources.
type Closer interface {
	Close() error
}

// Backend names.
const (
	BackendHeuristic = "heuristic"
	BackendRemote    = "remote"
	BackendONNX      = "onnx"
	BackendNone      = "none"
)

// Options configures the backend built by New.
type Options struct {
	Backend       string
	RemoteURL     string
	ModelPath     string
	InputName     string
	OutputName    string
	SharedLibrary string
	NumClasses    int
	Remote        RemoteOptions
}

// New builds the model for opts.Backend. BackendNone returns a nil model.
func New(opts Options) (Model, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendHeuristic:
		return NewHeuristic(), nil
	case BackendRemote:
		m, err := NewRemote(opts.RemoteURL, opts.Remote)
		if err != nil {
			return nil, err
		}
		return m, nil
	case BackendONNX:
		m, err := NewONNX(ONNXOptions{
			ModelPath:     opts.ModelPath,
			InputName:     opts.InputName,
			OutputName:    opts.OutputName,
			SharedLibrary: opts.SharedLibrary,
			NumClasses:    opts.NumClasses,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", opts.Backend)
	}
}

// Argmax converts per-voxel class scores (voxel-major, numClasses contiguous
// values per voxel) into labels. Ties go to the lowest class id.
func Argmax(scores []float32, numClasses int, shape models.Shape3D) (*models.ClassLabelVolume, error) {
	if numClasses < 1 {
		return nil, fmt.Errorf("argmax: numClasses must be positive, got %d", numClasses)
	}
	n := shape.Size()
	if len(scores) != n*numClasses {
		return nil, fmt.Errorf("argmax: got %d scores, shape %v with %d classes needs %d",
			len(scores), shape, numClasses, n*numClasses)
	}
	labels := make([]int32, n)
	for i := 0; i < n; i++ {
		row := scores[i*numClasses : (i+1)*numClasses]
		best := 0
		for c := 1; c < numClasses; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		labels[i] = int32(best)
	}
	return &models.ClassLabelVolume{Shape: shape, Labels: labels}, nil
}
