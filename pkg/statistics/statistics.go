// Package statistics derives region-level counts from a per-voxel class map.
package statistics

import (
	"fmt"
	"sort"

	"braintumor/internal/models"
)

// Background is the class id of non-tumor voxels.
const Background = 0

// Names resolves class ids to display names.
type Names map[int]string

// DefaultNames are the labels of the four-class segmentation model.
func DefaultNames() Names {
	return Names{
		0: "Background",
		1: "NCR/NET",
		2: "Edema",
		3: "Enhancing Tumor",
	}
}

// Name returns the display name for id, or "Class <id>" when unknown.
func (n Names) Name(id int) string {
	if name, ok := n[id]; ok {
		return name
	}
	return fmt.Sprintf("Class %d", id)
}

// Counts tallies voxels per class id in a single pass.
func Counts(labels []int32) map[int]int {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[int(l)]++
	}
	return counts
}

// Extract computes tumor statistics for labels on a grid of the given shape.
// The total is the product of shape; percentages are relative to it and are 0
// when the total is 0. Unknown ids get their own region with a placeholder
// name. Extract never fails.
func Extract(labels []int32, shape models.Shape3D, names Names) models.TumorStatistics {
	if names == nil {
		names = DefaultNames()
	}

	total := shape.Size()
	counts := Counts(labels)

	percent := func(count int) float64 {
		if total <= 0 {
			return 0
		}
		return float64(count) / float64(total) * 100
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		if id > Background {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	regions := make([]models.RegionStatistics, 0, len(ids))
	for _, id := range ids {
		regions = append(regions, models.RegionStatistics{
			ID:         id,
			Name:       names.Name(id),
			Voxels:     counts[id],
			Percentage: percent(counts[id]),
		})
	}

	background := counts[Background]
	tumor := total - background
	return models.TumorStatistics{
		TotalVoxels:          total,
		TumorVoxels:          tumor,
		TumorPercentage:      percent(tumor),
		BackgroundVoxels:     background,
		BackgroundPercentage: percent(background),
		Regions:              regions,
	}
}

// ExtractVolume is Extract over a class label volume.
func ExtractVolume(v *models.ClassLabelVolume, names Names) models.TumorStatistics {
	return Extract(v.Labels, v.Shape, names)
}
