// Package config provides configuration loading and management for dcmsurface.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"dcmsurface/pkg/reconstruction"
	"dcmsurface/pkg/slicesource"
	"dcmsurface/pkg/surface"
	"dcmsurface/pkg/volume"
)

// Config represents the application configuration
type Config struct {
	// Input parameters
	Input struct {
		// SplitBy selects the DICOM attribute used to group files into series
		SplitBy string `yaml:"splitBy" toml:"splitBy"`
	} `yaml:"input" toml:"input"`

	// Processing parameters
	Processing struct {
		// NumCores bounds how many slice groups are reconstructed at once
		NumCores int `yaml:"numCores" toml:"numCores"`

		// MinSlices is the smallest stack that will be reconstructed
		MinSlices int `yaml:"minSlices" toml:"minSlices"`

		// SmoothSigma is the Gaussian sigma in voxels; 0 disables smoothing
		SmoothSigma float64 `yaml:"smoothSigma" toml:"smoothSigma"`

		// IsoLevel fixes the surface threshold; unset selects it with Otsu's method
		IsoLevel *float64 `yaml:"isoLevel,omitempty" toml:"isoLevel,omitempty"`

		// SliceGap is the slice thickness in mm reported for plain image inputs
		SliceGap float64 `yaml:"sliceGap" toml:"sliceGap"`
	} `yaml:"processing" toml:"processing"`

	// Surface extraction parameters
	Extraction struct {
		// Resolution is the marching cubes cell size relative to the finest voxel spacing
		Resolution float64 `yaml:"resolution" toml:"resolution"`

		// SearchIters is the number of bisection steps per vertex
		SearchIters int `yaml:"searchIters" toml:"searchIters"`
	} `yaml:"extraction" toml:"extraction"`

	// Output parameters
	Output struct {
		Dir string `yaml:"dir" toml:"dir"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool   `yaml:"saveIntermediaryResults" toml:"saveIntermediaryResults"`
		IntermediaryDir         string `yaml:"intermediaryDir" toml:"intermediaryDir"`

		// SlicesDir receives x, y and z sections of each reconstructed volume when set
		SlicesDir string `yaml:"slicesDir,omitempty" toml:"slicesDir,omitempty"`

		// Report is the path of the YAML run report; empty disables it
		Report string `yaml:"report,omitempty" toml:"report,omitempty"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`

	// Log file rotation
	Log struct {
		// File is written in addition to stdout when set
		File string `yaml:"file,omitempty" toml:"file,omitempty"`

		// MaxSize is the size in megabytes at which the log file is rotated
		MaxSize int `yaml:"maxSize" toml:"maxSize"`

		// MaxAge is the number of days rotated files are kept
		MaxAge int `yaml:"maxAge" toml:"maxAge"`
	} `yaml:"log" toml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.SplitBy = string(slicesource.SplitBySeriesNumber)

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.MinSlices = volume.DefaultMinSlices
	cfg.Processing.SmoothSigma = reconstruction.DefaultSmoothSigma
	cfg.Processing.SliceGap = volume.DefaultSliceThickness

	cfg.Extraction.Resolution = surface.DefaultResolution
	cfg.Extraction.SearchIters = surface.DefaultSearchIters

	cfg.Output.Dir = "output"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = true

	cfg.Log.MaxSize = 100
	cfg.Log.MaxAge = 30

	return cfg
}

// isTOML reports whether path should be read and written as TOML.
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by the
// file extension. If the file doesn't exist, it returns the default configuration.
// Keys missing from the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
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
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

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

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if _, err := slicesource.SplitBy(c.Input.SplitBy).Tag(); err != nil {
		return err
	}
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("numCores must not be negative, got %d", c.Processing.NumCores)
	}
	if c.Processing.MinSlices < 0 {
		return fmt.Errorf("minSlices must not be negative, got %d", c.Processing.MinSlices)
	}
	if c.Processing.SmoothSigma < 0 {
		return fmt.Errorf("smoothSigma must not be negative, got %v", c.Processing.SmoothSigma)
	}
	if c.Processing.SliceGap <= 0 {
		return fmt.Errorf("sliceGap must be positive, got %v", c.Processing.SliceGap)
	}
	if c.Extraction.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %v", c.Extraction.Resolution)
	}
	if c.Extraction.SearchIters < 0 {
		return fmt.Errorf("searchIters must not be negative, got %d", c.Extraction.SearchIters)
	}
	if c.Output.SaveIntermediaryResults && c.Output.IntermediaryDir == "" {
		return fmt.Errorf("intermediaryDir is required when saveIntermediaryResults is set")
	}
	return nil
}
