// Package config provides configuration loading and management for braintumor.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"braintumor/internal/logger"
	"braintumor/internal/models"
)

// Config represents the application configuration loaded from YAML or TOML.
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds how many modalities are decoded and normalized at once
		NumCores int `yaml:"numCores" toml:"num_cores"`

		// TargetShape is the canonical grid every modality is resampled to
		TargetShape models.Shape3D `yaml:"targetShape" toml:"target_shape"`

		// Channels is the number of stacked modalities
		Channels int `yaml:"channels" toml:"channels"`

		// ResampleMode is "nearest" (default) or "linear"
		ResampleMode string `yaml:"resampleMode" toml:"resample_mode"`

		// StackPolicy is "zerofill" (default) or "strict"
		StackPolicy string `yaml:"stackPolicy" toml:"stack_policy"`

		// ReorderAxes converts decoded NIfTI payloads to row-major order (default on)
		ReorderAxes bool `yaml:"reorderAxes" toml:"reorder_axes"`
	} `yaml:"processing" toml:"processing"`

	// Intensity normalization parameters
	Normalization struct {
		LowerPercentile float64 `yaml:"lowerPercentile" toml:"lower_percentile"`
		UpperPercentile float64 `yaml:"upperPercentile" toml:"upper_percentile"`
		Epsilon         float64 `yaml:"epsilon" toml:"epsilon"`
		NoiseFloor      float64 `yaml:"noiseFloor" toml:"noise_floor"`
	} `yaml:"normalization" toml:"normalization"`

	// Inference backend parameters
	Inference struct {
		// Backend is "heuristic", "remote", "onnx" or "none"
		Backend string `yaml:"backend" toml:"backend"`

		// RemoteURL is the endpoint of the remote inference service
		RemoteURL string `yaml:"remoteURL" toml:"remote_url"`

		// Timeout bounds a single remote call
		Timeout time.Duration `yaml:"timeout" toml:"timeout"`

		// ModelPath, InputName and OutputName describe the ONNX model
		ModelPath  string `yaml:"modelPath" toml:"model_path"`
		InputName  string `yaml:"inputName" toml:"input_name"`
		OutputName string `yaml:"outputName" toml:"output_name"`

		// SharedLibrary is the path to the onnxruntime shared library
		SharedLibrary string `yaml:"sharedLibrary" toml:"shared_library"`

		// NumClasses is the number of classes the model predicts
		NumClasses int `yaml:"numClasses" toml:"num_classes"`
	} `yaml:"inference" toml:"inference"`

	// Labels maps class ids to display names
	Labels map[int]string `yaml:"labels" toml:"-"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults" toml:"save_intermediary_results"`

		// IntermediaryDir is where intermediary slice images are written
		IntermediaryDir string `yaml:"intermediaryDir" toml:"intermediary_dir"`

		// Verbose controls the level of console output
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`

	// Logging parameters
	Logging logger.Config `yaml:"logging" toml:"logging"`
}

// tomlLabels carries the label table in TOML, where map keys must be strings.
type tomlLabels struct {
	Labels map[string]string `toml:"labels"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.TargetShape = models.Shape3D{Height: 128, Width: 128, Depth: 96}
	cfg.Processing.Channels = 4
	cfg.Processing.ResampleMode = "nearest"
	cfg.Processing.StackPolicy = "zerofill"
	cfg.Processing.ReorderAxes = true

	// Set default normalization parameters
	cfg.Normalization.LowerPercentile = 0.01
	cfg.Normalization.UpperPercentile = 0.99
	cfg.Normalization.Epsilon = 1e-6
	cfg.Normalization.NoiseFloor = 0.05

	// Set default inference parameters
	cfg.Inference.Backend = "heuristic"
	cfg.Inference.Timeout = 60 * time.Second
	cfg.Inference.InputName = "input"
	cfg.Inference.OutputName = "output"
	cfg.Inference.NumClasses = 4

	cfg.Labels = map[int]string{
		0: "Background",
		1: "NCR/NET",
		2: "Edema",
		3: "Enhancing Tumor",
	}

	// Set default output parameters
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = true

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30

	return cfg
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if err := decodeTOML(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

func decodeTOML(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return err
	}
	var labels tomlLabels
	if _, err := toml.Decode(string(data), &labels); err != nil {
		return err
	}
	if len(labels.Labels) > 0 {
		cfg.Labels = make(map[int]string, len(labels.Labels))
		for k, v := range labels.Labels {
			var id int
			if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
				return fmt.Errorf("label id %q is not an integer", k)
			}
			cfg.Labels[id] = v
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML or TOML file, chosen by extension.
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		labels := tomlLabels{Labels: make(map[string]string, len(cfg.Labels))}
		for id, name := range cfg.Labels {
			labels.Labels[fmt.Sprint(id)] = name
		}
		if err := toml.NewEncoder(&buf).Encode(labels); err != nil {
			return fmt.Errorf("error marshaling labels: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the values that later stages cannot recover from.
func (c *Config) Validate() error {
	if err := models.CheckShape("targetShape", c.Processing.TargetShape); err != nil {
		return err
	}
	if c.Processing.Channels != len(models.Modalities) {
		return fmt.Errorf("channels must be %d (one per modality), got %d",
			len(models.Modalities), c.Processing.Channels)
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	n := c.Normalization
	if n.LowerPercentile < 0 || n.UpperPercentile > 1 || n.LowerPercentile > n.UpperPercentile {
		return fmt.Errorf("percentiles must satisfy 0 <= lower <= upper <= 1, got %g and %g",
			n.LowerPercentile, n.UpperPercentile)
	}
	if n.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %g", n.Epsilon)
	}
	if c.Inference.NumClasses < 1 {
		return fmt.Errorf("numClasses must be at least 1, got %d", c.Inference.NumClasses)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
