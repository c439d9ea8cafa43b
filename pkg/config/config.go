// Package config provides configuration loading and management for n2vgen.
// It handles loading configuration from YAML files, provides default values and validates
// the parameters the batch generator depends on.
package config

import (
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid labels every configuration error returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Patch parameters: what a single training sample looks like.
	Patch struct {
		// Shape is the spatial edge length of a training patch, one entry per spatial axis.
		// A single entry is broadcast to all NumDimensions axes.
		Shape []int `yaml:"shape"`

		// NumDimensions is the number of spatial axes, 2 or 3.
		NumDimensions int `yaml:"numDimensions"`

		// PercentBlindPixels is the percentage of patch pixels turned into blind spots.
		PercentBlindPixels float64 `yaml:"percentBlindPixels"`

		// NeighborhoodRadius is the half-width of the window replacement values are drawn from.
		NeighborhoodRadius int `yaml:"neighborhoodRadius"`
	} `yaml:"patch"`

	// Training parameters
	Training struct {
		BatchSize     int `yaml:"batchSize"`
		NumEpochs     int `yaml:"numEpochs"`
		StepsPerEpoch int `yaml:"stepsPerEpoch"`

		// ValidationFraction is the share of each image's tiles held out for validation
		// when no separate validation image is given.
		ValidationFraction float64 `yaml:"validationFraction"`
	} `yaml:"training"`

	// Data preparation parameters
	Data struct {
		// TileEdgeLength is the requested tile edge. Zero means twice the patch edge.
		TileEdgeLength int `yaml:"tileEdgeLength"`

		// Augment enables the 8-fold rotation/mirror augmentation of square tiles.
		Augment bool `yaml:"augment"`

		// ImageExtensions lists the file extensions picked up when loading a directory.
		ImageExtensions []string `yaml:"imageExtensions"`
	} `yaml:"data"`

	// Processing parameters
	Processing struct {
		// NumWorkers bounds the number of batch slots masked concurrently.
		NumWorkers int `yaml:"numWorkers"`

		// Seed for the random source; 0 seeds from the clock.
		Seed uint64 `yaml:"seed"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes preview images of tiles and batches.
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where previews are written.
		IntermediaryDir string `yaml:"intermediaryDir"`

		// StatsFile receives the normalization statistics.
		StatsFile string `yaml:"statsFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Patch.Shape = []int{64, 64}
	cfg.Patch.NumDimensions = 2
	cfg.Patch.PercentBlindPixels = 1.6
	cfg.Patch.NeighborhoodRadius = 5

	cfg.Training.BatchSize = 64
	cfg.Training.NumEpochs = 300
	cfg.Training.StepsPerEpoch = 200
	cfg.Training.ValidationFraction = 0.1

	cfg.Data.TileEdgeLength = 0
	cfg.Data.Augment = true
	cfg.Data.ImageExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Seed = 0

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.StatsFile = "stats.yaml"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file %q", configPath)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "error parsing config file %q", configPath)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// PatchShape returns the spatial patch shape with one entry per spatial axis.
func (c *Config) PatchShape() []int {
	if len(c.Patch.Shape) == 1 && c.Patch.NumDimensions > 1 {
		shape := make([]int, c.Patch.NumDimensions)
		for i := range shape {
			shape[i] = c.Patch.Shape[0]
		}
		return shape
	}
	return append([]int(nil), c.Patch.Shape...)
}

// NumBlindPixels is the number of blind spots requested per patch, truncated.
func (c *Config) NumBlindPixels() int {
	n := 1
	for _, d := range c.PatchShape() {
		n *= d
	}
	return int(float64(n) / 100.0 * c.Patch.PercentBlindPixels)
}

// BoxSize is the edge of the stratification grid cells: the side of a cube holding, on
// average, one blind spot. For two spatial axes this is round(sqrt(prod(shape)/numBlind)).
func (c *Config) BoxSize() int {
	shape := c.PatchShape()
	n := 1
	for _, d := range shape {
		n *= d
	}
	perSpot := float64(n) / float64(c.NumBlindPixels())
	return int(math.Round(math.Pow(perSpot, 1/float64(len(shape)))))
}

// TileEdge returns the tile edge length requested from the tiler.
func (c *Config) TileEdge() int {
	if c.Data.TileEdgeLength > 0 {
		return c.Data.TileEdgeLength
	}
	edge := 0
	for _, d := range c.PatchShape() {
		if d > edge {
			edge = d
		}
	}
	return 2 * edge
}

// Validate checks the parameters that would otherwise make sampling undefined.
func (c *Config) Validate() error {
	if c.Patch.NumDimensions != 2 && c.Patch.NumDimensions != 3 {
		return errors.Wrapf(ErrInvalid, "numDimensions must be 2 or 3, got %d", c.Patch.NumDimensions)
	}
	shape := c.PatchShape()
	if len(shape) != c.Patch.NumDimensions {
		return errors.Wrapf(ErrInvalid, "patch shape %v does not have %d axes", shape, c.Patch.NumDimensions)
	}
	for _, d := range shape {
		if d <= 0 {
			return errors.Wrapf(ErrInvalid, "patch shape %v must be positive", shape)
		}
	}
	if c.Patch.PercentBlindPixels <= 0 || c.Patch.PercentBlindPixels > 100 {
		return errors.Wrapf(ErrInvalid, "percentBlindPixels must be in (0, 100], got %g", c.Patch.PercentBlindPixels)
	}
	if c.NumBlindPixels() < 1 {
		return errors.Wrapf(ErrInvalid, "%g%% of patch %v is less than one blind pixel",
			c.Patch.PercentBlindPixels, shape)
	}
	if c.Patch.NeighborhoodRadius < 0 {
		return errors.Wrapf(ErrInvalid, "neighborhoodRadius must be >= 0, got %d", c.Patch.NeighborhoodRadius)
	}
	if c.Training.BatchSize <= 0 {
		return errors.Wrapf(ErrInvalid, "batchSize must be positive, got %d", c.Training.BatchSize)
	}
	if c.Training.ValidationFraction < 0 || c.Training.ValidationFraction >= 1 {
		return errors.Wrapf(ErrInvalid, "validationFraction must be in [0, 1), got %g", c.Training.ValidationFraction)
	}
	if edge := c.TileEdge(); edge > 0 {
		for _, d := range shape {
			if d > edge {
				return errors.Wrapf(ErrInvalid, "patch shape %v larger than tile edge %d", shape, edge)
			}
		}
	}
	return nil
}
