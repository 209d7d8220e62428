package pipeline

import (
	"sort"
	"time"

	"braintumor/internal/models"
	"braintumor/pkg/normalize"
)

// Result holds everything one run produced.
type Result struct {
	// RunID identifies the run in logs and intermediary output.
	RunID string

	// Volumes are the normalized modalities on the target grid.
	Volumes map[models.Modality]*models.Volume

	// Reports describe the normalization of each modality.
	Reports map[models.Modality]normalize.Report

	// Tensor is the stacked input of the model.
	Tensor *models.Tensor4D

	// Summary holds per-channel statistics of Tensor.
	Summary []ChannelSummary

	// Labels, Statistics and Method are set by Process only.
	Labels     *models.ClassLabelVolume
	Statistics *models.TumorStatistics
	Method     string

	Timings  []StageTiming
	Warnings []Warning
}

// ChannelSummary describes one channel of the stacked tensor.
type ChannelSummary struct {
	Modality string  `json:"modality"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stdDev"`
}

// StageTiming records how long a stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Warning is a non-fatal condition met during a run.
type Warning struct {
	Modality string
	Stage    string
	Err      error
}

func (w Warning) String() string {
	return (&StageError{Modality: w.Modality, Stage: w.Stage, Err: w.Err}).Error()
}

func (r *Result) addTiming(stage string, d time.Duration) {
	r.Timings = append(r.Timings, StageTiming{Stage: stage, Duration: d})
}

// Total returns the summed duration of all recorded stages.
func (r *Result) Total() time.Duration {
	var total time.Duration
	for _, t := range r.Timings {
		total += t.Duration
	}
	return total
}

// sortWarnings orders warnings by modality channel, then stage.
func sortWarnings(ws []Warning) {
	rank := func(name string) int {
		m, err := models.ParseModality(name)
		if err != nil {
			return len(models.Modalities)
		}
		return int(m)
	}
	sort.SliceStable(ws, func(i, j int) bool {
		ri, rj := rank(ws[i].Modality), rank(ws[j].Modality)
		if ri != rj {
			return ri < rj
		}
		return ws[i].Stage < ws[j].Stage
	})
}

// Response is the reply record of a completed prediction.
type Response struct {
	Success    bool                    `json:"success"`
	Prediction []int32                 `json:"prediction"`
	Shape      []int                   `json:"shape"`
	Statistics *models.TumorStatistics `json:"statistics"`
	Timestamp  string                  `json:"timestamp"`
	Method     string                  `json:"method"`
	RunID      string                  `json:"runId,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
}

// Response builds the reply record for r. It must only be called on results
// returned by Process.
func (r *Result) Response(now time.Time) *Response {
	resp := &Response{
		Success:    r.Labels != nil,
		Statistics: r.Statistics,
		Timestamp:  now.UTC().Format("2006-01-02T15:04:05.000000Z"),
		Method:     r.Method,
		RunID:      r.RunID,
	}
	if r.Labels != nil {
		resp.Prediction = r.Labels.Labels
		resp.Shape = r.Labels.Shape.Slice()
	}
	for _, w := range r.Warnings {
		resp.Warnings = append(resp.Warnings, w.String())
	}
	return resp
}
