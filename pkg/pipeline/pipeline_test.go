package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"n2vgen/internal/models"
	"n2vgen/pkg/batch"
	"n2vgen/pkg/blindspot"
	"n2vgen/pkg/config"
	"n2vgen/pkg/ndarray"
	"n2vgen/pkg/normalize"
	"n2vgen/pkg/rng"
	"n2vgen/pkg/sampling"
)

// testConfig returns a small 2D configuration: 16x16 patches, 32x32 tiles, batches of 4.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Patch.Shape = []int{16, 16}
	cfg.Patch.NeighborhoodRadius = 2
	cfg.Training.BatchSize = 4
	cfg.Training.ValidationFraction = 0.25
	cfg.Processing.NumWorkers = 2
	return cfg
}

// noiseImage creates an image of uniform noise with the given shape
func noiseImage(seed uint64, shape ...int) models.Image {
	src := rng.New(seed)
	a := ndarray.New(shape...)
	for i := range a.Data() {
		a.Data()[i] = 10 + 5*src.Float64()
	}
	return models.Image{Data: a, Filename: "noise.tif"}
}

func TestPrepareSplit(t *testing.T) {
	p, err := New(testConfig(), rng.New(1))
	require.NoError(t, err)

	// 64x64 gives 4 tiles of 32x32: 3 for training, 1 for validation.
	require.NoError(t, p.AddImage(noiseImage(2, 64, 64), models.Split))
	assert.Equal(t, 3, p.NumTraining())
	assert.Equal(t, 1, p.NumValidation())

	require.NoError(t, p.Prepare())
	assert.Equal(t, 24, p.NumTraining())
	assert.Equal(t, 8, p.NumValidation())

	// The training pool is standardized with its own statistics.
	stats := p.Stats()
	assert.InDelta(t, 12.5, stats.Mean, 0.5)
	renormalized, err := normalize.ComputeStats(p.training)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, renormalized.Mean, 1e-9)
	assert.InDelta(t, 1.0, renormalized.StdDev, 1e-9)
	for _, tile := range p.training {
		assert.Equal(t, []int{32, 32, 1, 1}, tile.Shape())
	}
}

func TestTrainingBatches(t *testing.T) {
	p, err := New(testConfig(), rng.New(3))
	require.NoError(t, err)
	require.NoError(t, p.AddImage(noiseImage(4, 64, 64), models.Training))
	require.NoError(t, p.AddImage(noiseImage(5, 32, 32), models.Validation))
	require.NoError(t, p.Prepare())

	w, err := p.TrainingBatches()
	require.NoError(t, err)
	assert.Equal(t, 8, w.NumBatches())
	pair, err := w.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{16, 16, 4, 1}, pair.X.Shape())
	assert.Equal(t, []int{16, 16, 4, 2}, pair.Y.Shape())
	for _, count := range blindspot.CountBlindSpots(pair.Y) {
		assert.Equal(t, 4.0, count, "box size 8 puts one blind spot in each of the 2x2 boxes")
	}
}

func TestValidationBatches(t *testing.T) {
	cfg := testConfig()
	cfg.Data.Augment = false
	p, err := New(cfg, rng.New(6))
	require.NoError(t, err)
	require.NoError(t, p.AddImage(noiseImage(7, 64, 64), models.Training))
	require.NoError(t, p.AddImage(noiseImage(8, 32, 64), models.Validation))
	require.NoError(t, p.Prepare())
	require.Equal(t, 2, p.NumValidation())

	// Batch size shrinks to the pool size: one batch of two.
	pairs, err := p.ValidationBatches()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, []int{16, 16, 2, 1}, pairs[0].X.Shape())
}

func TestPrepare3D(t *testing.T) {
	cfg := testConfig()
	cfg.Patch.NumDimensions = 3
	cfg.Patch.Shape = []int{8}
	cfg.Patch.PercentBlindPixels = 5
	cfg.Training.BatchSize = 2
	require.NoError(t, cfg.Validate())

	p, err := New(cfg, rng.New(9))
	require.NoError(t, err)
	require.NoError(t, p.AddImage(noiseImage(10, 16, 32, 32), models.Split))
	require.NoError(t, p.Prepare())

	w, err := p.TrainingBatches()
	require.NoError(t, err)
	pair, err := w.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 8, 8, 2, 1}, pair.X.Shape())
	assert.Equal(t, []int{8, 8, 8, 2, 2}, pair.Y.Shape())
}

func TestPrepareErrors(t *testing.T) {
	t.Run("no validation data", func(t *testing.T) {
		p, err := New(testConfig(), rng.New(11))
		require.NoError(t, err)
		require.NoError(t, p.AddImage(noiseImage(12, 64, 64), models.Training))
		err = p.Prepare()
		assert.True(t, errors.Is(err, ErrNoValidationData), "got %v", err)
	})

	t.Run("insufficient training data", func(t *testing.T) {
		cfg := testConfig()
		cfg.Training.BatchSize = 64
		p, err := New(cfg, rng.New(13))
		require.NoError(t, err)
		require.NoError(t, p.AddImage(noiseImage(14, 64, 64), models.Split))
		err = p.Prepare()
		assert.True(t, errors.Is(err, batch.ErrInsufficientData), "got %v", err)
	})

	t.Run("mixed tile shapes", func(t *testing.T) {
		// 64x64 tiles at edge 32, 24x24 is clipped to a single 24x24 tile.
		cfg := testConfig()
		cfg.Data.Augment = false
		p, err := New(cfg, rng.New(25))
		require.NoError(t, err)
		require.NoError(t, p.AddImage(noiseImage(26, 64, 64), models.Training))
		require.NoError(t, p.AddImage(noiseImage(27, 24, 24), models.Training))
		require.NoError(t, p.AddImage(noiseImage(28, 64, 64), models.Validation))
		err = p.Prepare()
		assert.True(t, errors.Is(err, ErrMixedTileShapes), "got %v", err)
		_, err = p.TrainingBatches()
		assert.True(t, errors.Is(err, ErrNotPrepared))

		// The same mix in the validation pool.
		p, err = New(cfg, rng.New(29))
		require.NoError(t, err)
		require.NoError(t, p.AddImage(noiseImage(30, 64, 64), models.Training))
		require.NoError(t, p.AddImage(noiseImage(31, 64, 64), models.Validation))
		require.NoError(t, p.AddImage(noiseImage(32, 24, 24), models.Validation))
		err = p.Prepare()
		assert.True(t, errors.Is(err, ErrMixedTileShapes), "got %v", err)
	})

	t.Run("patch larger than tiles", func(t *testing.T) {
		cfg := testConfig()
		cfg.Data.Augment = false
		cfg.Training.BatchSize = 1
		p, err := New(cfg, rng.New(33))
		require.NoError(t, err)
		require.NoError(t, p.AddImage(noiseImage(34, 12, 12), models.Training))
		require.NoError(t, p.AddImage(noiseImage(35, 12, 12), models.Validation))
		err = p.Prepare()
		assert.True(t, errors.Is(err, sampling.ErrPatchTooLarge), "got %v", err)
	})

	t.Run("constant data", func(t *testing.T) {
		p, err := New(testConfig(), rng.New(15))
		require.NoError(t, err)
		img := models.Image{Data: ndarray.New(64, 64), Filename: "flat.tif"}
		require.NoError(t, p.AddImage(img, models.Split))
		err = p.Prepare()
		assert.True(t, errors.Is(err, normalize.ErrZeroStdDev), "got %v", err)
	})

	t.Run("not prepared", func(t *testing.T) {
		p, err := New(testConfig(), rng.New(16))
		require.NoError(t, err)
		_, err = p.TrainingBatches()
		assert.True(t, errors.Is(err, ErrNotPrepared))
		_, err = p.ValidationBatches()
		assert.True(t, errors.Is(err, ErrNotPrepared))
	})

	t.Run("already prepared", func(t *testing.T) {
		p, err := New(testConfig(), rng.New(17))
		require.NoError(t, err)
		require.NoError(t, p.AddImage(noiseImage(18, 64, 64), models.Split))
		require.NoError(t, p.Prepare())
		assert.True(t, errors.Is(p.Prepare(), ErrPrepared))
		assert.True(t, errors.Is(p.AddImage(noiseImage(19, 64, 64), models.Training), ErrPrepared))
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Patch.NumDimensions = 4
		_, err := New(cfg, rng.New(20))
		assert.True(t, errors.Is(err, config.ErrInvalid))
	})
}

func TestSeededPipelinesMatch(t *testing.T) {
	run := func() batch.Pair {
		p, err := New(testConfig(), rng.New(21))
		require.NoError(t, err)
		require.NoError(t, p.AddImage(noiseImage(22, 64, 64), models.Split))
		require.NoError(t, p.Prepare())
		w, err := p.TrainingBatches()
		require.NoError(t, err)
		pair, err := w.Next()
		require.NoError(t, err)
		return pair
	}
	a, b := run(), run()
	assert.Equal(t, a.X.Data(), b.X.Data())
	assert.Equal(t, a.Y.Data(), b.Y.Data())
}

func TestIntermediaryResults(t *testing.T) {
	cfg := testConfig()
	cfg.Output.SaveIntermediaryResults = true
	cfg.Output.IntermediaryDir = t.TempDir()
	p, err := New(cfg, rng.New(23))
	require.NoError(t, err)
	require.NoError(t, p.AddImage(noiseImage(24, 64, 64), models.Split))
	require.NoError(t, p.Prepare())

	entries, err := os.ReadDir(filepath.Join(cfg.Output.IntermediaryDir, "01_training_tiles"))
	require.NoError(t, err)
	assert.Len(t, entries, 24)
	entries, err = os.ReadDir(filepath.Join(cfg.Output.IntermediaryDir, "02_validation_tiles"))
	require.NoError(t, err)
	assert.Len(t, entries, 8)

	w, err := p.TrainingBatches()
	require.NoError(t, err)
	pair, err := w.Next()
	require.NoError(t, err)
	require.NoError(t, p.SaveBatchPreview("03_first_batch", pair))
	_, err = os.Stat(filepath.Join(cfg.Output.IntermediaryDir, "03_first_batch", "slot_003_mask.png"))
	assert.NoError(t, err)
}
