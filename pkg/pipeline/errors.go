package pipeline

import (
	"errors"
	"fmt"
)

// Stage names used in errors, timings and logs.
const (
	StageInput      = "input"
	StageDecode     = "decode"
	StageNormalize  = "normalize"
	StageResample   = "resample"
	StageStack      = "stack"
	StagePredict    = "predict"
	StageStatistics = "statistics"
)

// ErrMissingInput is returned when a modality has no source.
var ErrMissingInput = errors.New("no input given")

// ErrNoModel is returned by Process when no model is configured.
var ErrNoModel = errors.New("no model configured")

// StageError identifies the modality and stage that failed. Modality is empty
// for stages that act on all modalities at once.
type StageError struct {
	Modality string
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	if e.Modality == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Modality, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
