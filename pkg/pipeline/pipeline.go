// Package pipeline runs the full preprocessing chain for one case: decode the
// four modalities, normalize, resample to the target grid, stack into a
// tensor, predict a class map and derive statistics.
//
// The steps are:
// 1. Decoding each modality (NIfTI or slice images) in parallel
// 2. Normalizing each modality, in the same worker
// 3. Resampling every modality to the target shape
// 4. Stacking the modalities into a channel-minor tensor
// 5. Predicting a class label volume with the configured model
// 6. Extracting tumor statistics from the class labels
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"braintumor/internal/logger"
	"braintumor/internal/models"
	"braintumor/pkg/config"
	"braintumor/pkg/imaging"
	"braintumor/pkg/inference"
	"braintumor/pkg/nifti"
	"braintumor/pkg/normalize"
	"braintumor/pkg/resample"
	"braintumor/pkg/stack"
	"braintumor/pkg/statistics"
	"braintumor/pkg/visualization"
)

// Params holds the pipeline parameters, resolved from the configuration.
type Params struct {
	// NumCores bounds how many modalities are decoded at once.
	NumCores int

	// TargetShape is the grid every modality is resampled to.
	TargetShape models.Shape3D

	// ResampleMode and StackPolicy select the resampling method and the
	// handling of short channels.
	ResampleMode resample.Mode
	StackPolicy  stack.Policy

	// ReorderAxes converts NIfTI payloads from file order (x fastest) to the
	// row-major order every later stage indexes with. Only raw flat-buffer
	// consumers turn it off.
	ReorderAxes bool

	// Normalizer holds the intensity normalization parameters.
	Normalizer normalize.Normalizer

	// Labels names the class ids in statistics.
	Labels statistics.Names

	// SaveIntermediaryResults writes normalized volumes and label maps as
	// PNG slices under IntermediaryDir.
	SaveIntermediaryResults bool
	IntermediaryDir         string
}

// ParamsFromConfig resolves pipeline parameters from cfg.
func ParamsFromConfig(cfg *config.Config) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := stack.ParsePolicy(cfg.Processing.StackPolicy)
	if err != nil {
		return nil, err
	}
	mode := resample.Mode(cfg.Processing.ResampleMode)
	if _, err := resample.New(mode); err != nil {
		return nil, err
	}

	return &Params{
		NumCores:     cfg.Processing.NumCores,
		TargetShape:  cfg.Processing.TargetShape,
		ResampleMode: mode,
		StackPolicy:  policy,
		ReorderAxes:  cfg.Processing.ReorderAxes,
		Normalizer: normalize.Normalizer{
			LowerPercentile: cfg.Normalization.LowerPercentile,
			UpperPercentile: cfg.Normalization.UpperPercentile,
			Epsilon:         cfg.Normalization.Epsilon,
			NoiseFloor:      cfg.Normalization.NoiseFloor,
		},
		Labels:                  statistics.Names(cfg.Labels),
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Output.IntermediaryDir,
	}, nil
}

// Pipeline processes cases. It holds no per-case state and is safe for
// concurrent use when its model is.
type Pipeline struct {
	params   *Params
	resample resample.Func
	model    inference.Model
	log      logger.Logger
}

// New creates a pipeline from a copy of params. model may be nil, in which
// case only Prepare is usable. A nil log discards output.
func New(params *Params, model inference.Model, log logger.Logger) (*Pipeline, error) {
	if err := models.CheckShape("target shape", params.TargetShape); err != nil {
		return nil, err
	}
	fn, err := resample.New(params.ResampleMode)
	if err != nil {
		return nil, err
	}
	cp := *params
	if cp.NumCores < 1 {
		cp.NumCores = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{params: &cp, resample: fn, model: model, log: log}, nil
}

// Process runs all six steps.
func (p *Pipeline) Process(ctx context.Context, in Inputs) (*Result, error) {
	if p.model == nil {
		return nil, &StageError{Stage: StagePredict, Err: ErrNoModel}
	}

	res, err := p.Prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	// Step 5: Predict class labels
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	labels, err := p.model.Predict(ctx, res.Tensor)
	if err != nil {
		return nil, &StageError{Stage: StagePredict, Err: err}
	}
	if labels == nil {
		return nil, &StageError{Stage: StagePredict, Err: fmt.Errorf("model %s returned no labels", p.model.Name())}
	}
	if labels.Shape != res.Tensor.Shape || len(labels.Labels) != labels.Shape.Size() {
		return nil, &StageError{Stage: StagePredict,
			Err: fmt.Errorf("model %s returned %d labels for shape %v", p.model.Name(), len(labels.Labels), labels.Shape)}
	}
	res.Labels = labels
	res.Method = p.model.Name()
	res.addTiming(StagePredict, time.Since(start))
	p.log.Info("pipeline", "prediction complete", map[string]interface{}{
		"run":      res.RunID,
		"model":    res.Method,
		"duration": time.Since(start),
	})

	// Step 6: Extract statistics
	start = time.Now()
	stats := statistics.ExtractVolume(labels, p.params.Labels)
	res.Statistics = &stats
	res.addTiming(StageStatistics, time.Since(start))
	p.log.Info("pipeline", "statistics extracted", map[string]interface{}{
		"run":             res.RunID,
		"tumorVoxels":     stats.TumorVoxels,
		"tumorPercentage": stats.TumorPercentage,
		"regions":         len(stats.Regions),
	})

	if p.params.SaveIntermediaryResults {
		if err := p.saveLabels(res); err != nil {
			p.log.Warning("pipeline", "failed to save label slices", map[string]interface{}{"error": err.Error()})
		}
	}
	return res, nil
}

// Prepare runs steps 1 to 4 and returns a result holding the stacked tensor.
func (p *Pipeline) Prepare(ctx context.Context, in Inputs) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:   uuid.NewString(),
		Volumes: make(map[models.Modality]*models.Volume, len(models.Modalities)),
		Reports: make(map[models.Modality]normalize.Report, len(models.Modalities)),
	}
	p.log.Info("pipeline", "processing case", map[string]interface{}{
		"run":    res.RunID,
		"target": p.params.TargetShape.String(),
		"cores":  p.params.NumCores,
	})

	// Steps 1 and 2: Decode and normalize each modality in parallel
	start := time.Now()
	if err := p.load(ctx, in, res); err != nil {
		return nil, err
	}
	res.addTiming(StageDecode+"+"+StageNormalize, time.Since(start))

	if p.params.SaveIntermediaryResults {
		if err := p.saveNormalized(res); err != nil {
			p.log.Warning("pipeline", "failed to save normalized slices", map[string]interface{}{"error": err.Error()})
		}
	}

	// Step 3: Resample every modality to the target shape
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start = time.Now()
	channels := make([][]float32, len(models.Modalities))
	for _, m := range models.Modalities {
		v := res.Volumes[m]
		data, err := p.resample(v.Data, v.Shape, p.params.TargetShape)
		if err != nil {
			return nil, &StageError{Modality: m.String(), Stage: StageResample, Err: err}
		}
		res.Volumes[m] = v.Resampled(data, p.params.TargetShape)
		channels[m] = data
	}
	res.addTiming(StageResample, time.Since(start))

	// Step 4: Stack into a channel-minor tensor
	start = time.Now()
	tensor, err := stack.Channels(channels, p.params.TargetShape, p.params.StackPolicy)
	if err != nil {
		stageErr := &StageError{Stage: StageStack, Err: err}
		var chErr *stack.ChannelError
		if errors.As(err, &chErr) && chErr.Channel < len(models.Modalities) {
			stageErr.Modality = models.Modality(chErr.Channel).String()
		}
		return nil, stageErr
	}
	res.Tensor = tensor
	res.Summary = summarize(tensor)
	res.addTiming(StageStack, time.Since(start))
	p.log.Info("pipeline", "tensor ready", map[string]interface{}{
		"run":  res.RunID,
		"dims": tensor.Dims(),
		"size": humanize.Bytes(uint64(4 * len(tensor.Data))),
	})

	return res, nil
}

// load decodes and normalizes the four modalities, at most NumCores at once.
func (p *Pipeline) load(ctx context.Context, in Inputs, res *Result) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.params.NumCores)

	for _, m := range models.Modalities {
		m := m
		src := in[m]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			vol, err := p.decode(m, src)
			if err != nil {
				return &StageError{Modality: m.String(), Stage: StageDecode, Err: err}
			}

			data, report := p.params.Normalizer.Apply(vol.Data)
			vol = vol.WithData(data, vol.Shape)

			mu.Lock()
			defer mu.Unlock()
			res.Volumes[m] = vol
			res.Reports[m] = report
			if report.Warning != nil {
				res.Warnings = append(res.Warnings, Warning{Modality: m.String(), Stage: StageNormalize, Err: report.Warning})
				p.log.Warning("normalize", report.Warning.Error(), map[string]interface{}{"modality": m.String()})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Warnings are appended in completion order.
	sortWarnings(res.Warnings)
	return nil
}

// decode turns a source into a volume. Slice images are built directly on the
// target grid.
func (p *Pipeline) decode(m models.Modality, src Source) (*models.Volume, error) {
	switch {
	case src.NIfTI != nil || src.Path != "":
		var vol *models.Volume
		var err error
		size := len(src.NIfTI)
		if src.NIfTI != nil {
			vol, err = nifti.Decode(src.NIfTI)
		} else {
			vol, err = nifti.DecodeFile(src.Path)
		}
		if err != nil {
			return nil, err
		}
		if p.params.ReorderAxes {
			vol = vol.WithData(models.ToRowMajor(vol.Data, vol.Shape), vol.Shape)
		}
		fields := map[string]interface{}{
			"modality": m.String(),
			"source":   src.kind(),
			"shape":    vol.Shape.String(),
			"datatype": vol.Header.DataType,
		}
		if size > 0 {
			fields["size"] = humanize.Bytes(uint64(size))
		}
		p.log.Debug("decoder", "decoded NIfTI volume", fields)
		return vol, nil

	default:
		images := src.Slices
		if len(images) == 0 {
			var err error
			images, err = LoadSliceDir(src.SliceDir)
			if err != nil {
				return nil, err
			}
		}
		resizeFn := imaging.Resize
		if p.params.ResampleMode == resample.Linear {
			resizeFn = imaging.ResizeSmooth
		}
		vol, err := imaging.BuildVolume(images, p.params.TargetShape, resizeFn)
		if err != nil {
			return nil, err
		}
		p.log.Debug("decoder", "built volume from slices", map[string]interface{}{
			"modality": m.String(),
			"source":   src.kind(),
			"slices":   len(images),
			"shape":    vol.Shape.String(),
		})
		return vol, nil
	}
}

func (p *Pipeline) saveNormalized(res *Result) error {
	for _, m := range models.Modalities {
		v := res.Volumes[m]
		viewer, err := visualization.NewViewer(v.Data, v.Shape)
		if err != nil {
			return err
		}
		dir := filepath.Join(p.params.IntermediaryDir, res.RunID, "01_normalized", m.String())
		if _, err := viewer.SaveSliceSequence("z", dir); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) saveLabels(res *Result) error {
	viewer, err := visualization.NewLabelViewer(res.Labels)
	if err != nil {
		return err
	}
	dir := filepath.Join(p.params.IntermediaryDir, res.RunID, "02_labels")
	_, err = viewer.SaveSliceSequence("z", dir)
	return err
}

// summarize computes per-channel mean and standard deviation of a tensor.
func summarize(t *models.Tensor4D) []ChannelSummary {
	n := t.Shape.Size()
	values := make([]float64, n)
	summary := make([]ChannelSummary, t.Channels)
	for c := 0; c < t.Channels; c++ {
		for i := 0; i < n; i++ {
			values[i] = float64(t.Data[i*t.Channels+c])
		}
		mean, std := stat.MeanStdDev(values, nil)
		if n < 2 {
			std = 0
		}
		summary[c] = ChannelSummary{Modality: models.Modality(c).String(), Mean: mean, StdDev: std}
	}
	return summary
}
