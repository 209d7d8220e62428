package models

// RegionStatistics summarizes one non-background class.
type RegionStatistics struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Voxels     int     `json:"voxels"`
	Percentage float64 `json:"percentage"`
}

// TumorStatistics is derived from a class label volume. Regions only
// contains ids greater than zero, in ascending id order.
type TumorStatistics struct {
	TotalVoxels          int                `json:"totalVoxels"`
	TumorVoxels          int                `json:"tumorVoxels"`
	TumorPercentage      float64            `json:"tumorPercentage"`
	BackgroundVoxels     int                `json:"backgroundVoxels"`
	BackgroundPercentage float64            `json:"backgroundPercentage"`
	Regions              []RegionStatistics `json:"regions"`
}
