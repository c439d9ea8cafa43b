package config

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{64, 64}, cfg.PatchShape())
	assert.Equal(t, 128, cfg.TileEdge())
}

func TestDerivedValues(t *testing.T) {
	tests := []struct {
		name      string
		shape     []int
		dims      int
		percent   float64
		wantBlind int
		wantBox   int
	}{
		{"32x32 at 1.6%", []int{32, 32}, 2, 1.6, 16, 8},
		{"broadcast edge", []int{32}, 2, 1.6, 16, 8},
		{"64x64 at 0.198%", []int{64, 64}, 2, 0.198, 8, 23},
		{"32^3 at 1.6%", []int{32, 32, 32}, 3, 1.6, 524, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Patch.Shape = tt.shape
			cfg.Patch.NumDimensions = tt.dims
			cfg.Patch.PercentBlindPixels = tt.percent
			assert.Equal(t, tt.wantBlind, cfg.NumBlindPixels())
			assert.Equal(t, tt.wantBox, cfg.BoxSize())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unsupported dimensions", func(c *Config) { c.Patch.NumDimensions = 4 }},
		{"shape rank mismatch", func(c *Config) { c.Patch.Shape = []int{32, 32, 32} }},
		{"zero extent", func(c *Config) { c.Patch.Shape = []int{32, 0} }},
		{"no blind pixels", func(c *Config) { c.Patch.Shape = []int{4, 4}; c.Patch.PercentBlindPixels = 1 }},
		{"negative radius", func(c *Config) { c.Patch.NeighborhoodRadius = -1 }},
		{"zero batch", func(c *Config) { c.Training.BatchSize = 0 }},
		{"validation fraction", func(c *Config) { c.Training.ValidationFraction = 1 }},
		{"patch larger than tile", func(c *Config) { c.Data.TileEdgeLength = 32 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "n2v.yaml")

	cfg := DefaultConfig()
	cfg.Patch.Shape = []int{32, 32, 32}
	cfg.Patch.NumDimensions = 3
	cfg.Training.BatchSize = 16
	cfg.Processing.Seed = 1234
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMissingConfigReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
