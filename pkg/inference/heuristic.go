package inference

import (
	"context"
	"fmt"

	"braintumor/internal/models"
)

// Thresholds of the local heuristic, applied to normalized intensities.
const (
	EnhancingT1CE  = 0.75
	EnhancingFLAIR = 0.5
	EdemaFLAIR     = 0.7
	NecroticT2     = 0.8
	NecroticT1CE   = 0.3
)

// Class ids produced by the heuristic.
const (
	ClassBackground = 0
	ClassNecrotic   = 1
	ClassEdema      = 2
	ClassEnhancing  = 3
)

// Heuristic is a deterministic stand-in for the segmentation model. It labels
// voxels from channel intensities alone, checking enhancing tumor first, then
// edema, then necrotic core.
type Heuristic struct{}

// NewHeuristic returns the local heuristic model.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (*Heuristic) Name() string {
	return BackendHeuristic
}

// Predict labels every voxel of t, which must carry the four modalities in
// channel order.
func (h *Heuristic) Predict(ctx context.Context, t *models.Tensor4D) (*models.ClassLabelVolume, error) {
	if t.Channels != len(models.Modalities) {
		return nil, fmt.Errorf("heuristic: expected %d channels, got %d", len(models.Modalities), t.Channels)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := t.Shape.Size()
	labels := make([]int32, n)
	for i := 0; i < n; i++ {
		v := t.Data[i*t.Channels : (i+1)*t.Channels]
		labels[i] = Classify(v[models.T1], v[models.T1CE], v[models.T2], v[models.FLAIR])
	}
	return &models.ClassLabelVolume{Shape: t.Shape, Labels: labels}, nil
}

// Classify labels a single voxel.
func Classify(t1, t1ce, t2, flair float32) int32 {
	switch {
	case t1ce >= EnhancingT1CE && flair >= EnhancingFLAIR:
		return ClassEnhancing
	case flair >= EdemaFLAIR:
		return ClassEdema
	case t2 >= NecroticT2 && t1ce < NecroticT1CE:
		return ClassNecrotic
	default:
		return ClassBackground
	}
}
