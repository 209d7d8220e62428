package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"braintumor/internal/logger"
	"braintumor/internal/models"
	"braintumor/pkg/config"
	"braintumor/pkg/inference"
	"braintumor/pkg/nifti"
	"braintumor/pkg/pipeline"
	"braintumor/pkg/visualization"
)

type options struct {
	niftiPaths    map[models.Modality]*string
	sliceDirs     map[models.Modality]*string
	configPath    string
	initConfig    string
	backend       string
	remoteURL     string
	modelPath     string
	numCores      int
	outputPath    string
	tensorPath    string
	exportDir     string
	extractSlices bool
	slicesDir     string
	saveInterm    bool
	logLevel      string
}

func parseFlags() *options {
	opts := &options{
		niftiPaths: make(map[models.Modality]*string),
		sliceDirs:  make(map[models.Modality]*string),
	}
	for _, m := range models.Modalities {
		opts.niftiPaths[m] = flag.String(m.String(), "", fmt.Sprintf("NIfTI file for the %s (%s) modality", m, m.Role()))
		opts.sliceDirs[m] = flag.String(m.String()+"-slices", "", fmt.Sprintf("Directory of 2D slice images for the %s modality", m))
	}
	flag.StringVar(&opts.configPath, "config", "config.yaml", "Configuration file (YAML or TOML)")
	flag.StringVar(&opts.initConfig, "init-config", "", "Write a default configuration file to this path and exit")
	flag.StringVar(&opts.backend, "backend", "", "Inference backend: heuristic, remote, onnx or none (overrides config)")
	flag.StringVar(&opts.remoteURL, "remote-url", "", "Remote inference endpoint (overrides config)")
	flag.StringVar(&opts.modelPath, "model", "", "ONNX model path (overrides config)")
	flag.IntVar(&opts.numCores, "cores", 0, "Number of modalities decoded in parallel (default: from config)")
	flag.StringVar(&opts.outputPath, "output", "", "Write the JSON response to this file (- for stdout)")
	flag.StringVar(&opts.tensorPath, "tensor", "", "Write the stacked tensor as raw little-endian float32 to this file")
	flag.StringVar(&opts.exportDir, "export-nifti", "", "Write the normalized volumes as NIfTI files to this directory")
	flag.BoolVar(&opts.extractSlices, "extract-slices", false, "Extract and save slices of every volume along all axes")
	flag.StringVar(&opts.slicesDir, "slices-dir", "extracted_slices", "Directory to save extracted slices")
	flag.BoolVar(&opts.saveInterm, "save-intermediary", false, "Save intermediary results during processing (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	if opts.initConfig != "" {
		if err := config.CreateDefaultConfigFile(opts.initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", opts.initConfig)
		return
	}

	inputs, err := buildInputs(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, opts)

	log := logger.New(cfg.Logging)
	defer log.Close()

	if err := run(cfg, opts, inputs, log); err != nil {
		log.Error("main", err, nil)
		fmt.Fprintf(os.Stderr, "Processing failed: %v\n", err)
		log.Close()
		os.Exit(1)
	}
}

func buildInputs(opts *options) (pipeline.Inputs, error) {
	inputs := pipeline.Inputs{}
	for _, m := range models.Modalities {
		path, dir := *opts.niftiPaths[m], *opts.sliceDirs[m]
		switch {
		case path != "" && dir != "":
			return nil, fmt.Errorf("-%s and -%s-slices are mutually exclusive", m, m)
		case path != "":
			inputs[m] = pipeline.Source{Path: path}
		case dir != "":
			inputs[m] = pipeline.Source{SliceDir: dir}
		default:
			return nil, fmt.Errorf("missing input for %s: pass -%s or -%s-slices", m, m, m)
		}
	}
	return inputs, nil
}

// applyOverrides copies explicitly set flags over the loaded configuration.
func applyOverrides(cfg *config.Config, opts *options) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Inference.Backend = opts.backend
		case "remote-url":
			cfg.Inference.RemoteURL = opts.remoteURL
		case "model":
			cfg.Inference.ModelPath = opts.modelPath
		case "cores":
			cfg.Processing.NumCores = opts.numCores
		case "save-intermediary":
			cfg.Output.SaveIntermediaryResults = opts.saveInterm
		case "log-level":
			cfg.Logging.Level = opts.logLevel
		}
	})
}

func run(cfg *config.Config, opts *options, inputs pipeline.Inputs, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := consoleWriter(opts.outputPath)

	params, err := pipeline.ParamsFromConfig(cfg)
	if err != nil {
		return err
	}

	var model inference.Model
	if cfg.Inference.Backend != inference.BackendNone {
		cache := inference.NewCacheFromOptions(inference.Options{
			Backend:       cfg.Inference.Backend,
			RemoteURL:     cfg.Inference.RemoteURL,
			ModelPath:     cfg.Inference.ModelPath,
			InputName:     cfg.Inference.InputName,
			OutputName:    cfg.Inference.OutputName,
			SharedLibrary: cfg.Inference.SharedLibrary,
			NumClasses:    cfg.Inference.NumClasses,
			Remote:        inference.RemoteOptions{Timeout: cfg.Inference.Timeout},
		})
		defer func() {
			if err := cache.Reset(); err != nil {
				log.Warning("main", "failed to release model", map[string]interface{}{"error": err.Error()})
			}
		}()
		model = cache
	}

	p, err := pipeline.New(params, model, log)
	if err != nil {
		return err
	}

	if cfg.Output.Verbose {
		fmt.Fprintln(out, "================================")
		fmt.Fprintln(out, "BRAIN TUMOR MRI SEGMENTATION PIPELINE")
		fmt.Fprintln(out, "Four-modality preprocessing and inference")
		fmt.Fprintln(out, "================================")
		fmt.Fprintf(out, "Target grid: %s x %d channels\n", params.TargetShape, cfg.Processing.Channels)
		fmt.Fprintf(out, "Inference backend: %s\n", cfg.Inference.Backend)
	}

	startTime := time.Now()
	var res *pipeline.Result
	if model == nil {
		res, err = p.Prepare(ctx, inputs)
	} else {
		res, err = p.Process(ctx, inputs)
	}
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	if cfg.Output.Verbose {
		printSummary(out, res, processingTime)
	}

	if opts.outputPath != "" && res.Labels != nil {
		if err := writeResponse(res, opts.outputPath); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	if opts.tensorPath != "" {
		n, err := writeTensor(res.Tensor, opts.tensorPath)
		if err != nil {
			return fmt.Errorf("failed to write tensor: %w", err)
		}
		fmt.Fprintf(out, "Tensor %v written to %s (%s)\n", res.Tensor.Dims(), opts.tensorPath, humanize.Bytes(uint64(n)))
	}
	if opts.exportDir != "" {
		if err := exportVolumes(res, opts.exportDir); err != nil {
			return fmt.Errorf("failed to export volumes: %w", err)
		}
		fmt.Fprintf(out, "Normalized volumes written to %s\n", opts.exportDir)
	}
	if opts.extractSlices {
		extractSlices(out, res, opts.slicesDir, log)
	}
	if cfg.Output.SaveIntermediaryResults {
		fmt.Fprintln(out, "\nIntermediary results saved to:")
		fmt.Fprintf(out, "%s\n", filepath.Join(cfg.Output.IntermediaryDir, res.RunID))
		fmt.Fprintln(out, "- 01_normalized: Normalized modalities before resampling")
		if res.Labels != nil {
			fmt.Fprintln(out, "- 02_labels: Predicted class labels")
		}
	}
	return nil
}

// consoleWriter returns where progress and summaries go. When the JSON
// response is written to stdout they move to stderr.
func consoleWriter(outputPath string) io.Writer {
	if outputPath == "-" {
		return os.Stderr
	}
	return os.Stdout
}

func printSummary(out io.Writer, res *pipeline.Result, elapsed time.Duration) {
	fmt.Fprintf(out, "\nProcessing completed successfully in %.2f seconds (run %s)\n", elapsed.Seconds(), res.RunID)

	fmt.Fprintln(out, "\nStage timings:")
	for _, t := range res.Timings {
		fmt.Fprintf(out, "- %-18s %s\n", t.Stage, t.Duration.Round(time.Microsecond))
	}

	fmt.Fprintln(out, "\nChannel summary:")
	for _, c := range res.Summary {
		fmt.Fprintf(out, "- %-6s mean %.4f  std %.4f\n", c.Modality, c.Mean, c.StdDev)
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}

	if res.Statistics == nil {
		fmt.Fprintln(out, "\nNo model configured; stopped after stacking.")
		return
	}
	s := res.Statistics
	fmt.Fprintf(out, "\nTumor statistics (%s):\n", res.Method)
	fmt.Fprintf(out, "=======================================\n")
	fmt.Fprintf(out, "Total voxels: %s\n", humanize.Comma(int64(s.TotalVoxels)))
	fmt.Fprintf(out, "Tumor voxels: %s (%.2f%%)\n", humanize.Comma(int64(s.TumorVoxels)), s.TumorPercentage)
	for _, r := range s.Regions {
		fmt.Fprintf(out, "- %-16s %10s voxels (%.2f%%)\n", r.Name, humanize.Comma(int64(r.Voxels)), r.Percentage)
	}
}

func writeResponse(res *pipeline.Result, path string) error {
	data, err := json.MarshalIndent(res.Response(time.Now()), "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func writeTensor(t *models.Tensor4D, path string) (int, error) {
	buf := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return len(buf), os.WriteFile(path, buf, 0644)
}

func exportVolumes(res *pipeline.Result, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, m := range models.Modalities {
		if err := nifti.EncodeFile(res.Volumes[m], filepath.Join(dir, m.String()+".nii")); err != nil {
			return fmt.Errorf("%s: %w", m, err)
		}
	}
	return nil
}

// extractSlices saves every volume, and the label map when present, along all
// three axes. Failures are logged and skipped.
func extractSlices(out io.Writer, res *pipeline.Result, dir string, log logger.Logger) {
	fmt.Fprintln(out, "\nExtracting slices along all axes...")

	viewers := make(map[string]*visualization.Viewer)
	for _, m := range models.Modalities {
		v := res.Volumes[m]
		viewer, err := visualization.NewViewer(v.Data, v.Shape)
		if err != nil {
			log.Warning("main", "cannot view volume", map[string]interface{}{"modality": m.String(), "error": err.Error()})
			continue
		}
		viewers[m.String()] = viewer
	}
	if res.Labels != nil {
		if viewer, err := visualization.NewLabelViewer(res.Labels); err == nil {
			viewers["labels"] = viewer
		}
	}

	for name, viewer := range viewers {
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(dir, name, axis)
			n, err := viewer.SaveSliceSequence(axis, axisDir)
			if err != nil {
				log.Warning("main", "failed to save slices", map[string]interface{}{
					"volume": name, "axis": axis, "error": err.Error(),
				})
				continue
			}
			fmt.Fprintf(out, "Saved %d %s-axis slices of %s to: %s\n", n, axis, name, axisDir)
		}
	}
	fmt.Fprintln(out, "Slice extraction completed!")
}
