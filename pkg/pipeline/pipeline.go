// Package pipeline turns raw images into the training and validation tile pools and hands out
// the batch generators built on them.
//
// The preparation runs in fixed stages:
//  1. Tiling of every added image, with a shuffled train/validation split where requested
//  2. Augmentation (or plain reshaping) of both pools
//  3. Normalization of both pools with the statistics of the training pool
//  4. Checks that every pool has one tile shape the patch fits in, and enough tiles
//
// After Prepare the pools are immutable and any number of generators can be created from them.
package pipeline

import (
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"n2vgen/internal/models"
	"n2vgen/pkg/augment"
	"n2vgen/pkg/batch"
	"n2vgen/pkg/blindspot"
	"n2vgen/pkg/config"
	"n2vgen/pkg/imageio"
	"n2vgen/pkg/ndarray"
	"n2vgen/pkg/normalize"
	"n2vgen/pkg/rng"
	"n2vgen/pkg/sampling"
	"n2vgen/pkg/tiling"
)

var (
	// ErrNoValidationData is returned by Prepare when no tile ended up in the validation pool.
	ErrNoValidationData = errors.New("no validation data available")

	// ErrNotPrepared is returned when generators are requested before Prepare succeeded.
	ErrNotPrepared = errors.New("pipeline not prepared")

	// ErrPrepared is returned when images are added or Prepare is called after Prepare.
	ErrPrepared = errors.New("pipeline already prepared")

	// ErrMixedTileShapes is returned by Prepare when the tiles of one pool differ in shape,
	// which happens when images smaller than the tile edge are mixed with larger ones.
	ErrMixedTileShapes = errors.New("tiles of different shapes in one pool")
)

const (
	// smallValidationFraction is the validation share of all tiles below which a warning is
	// logged.
	smallValidationFraction = 0.05

	// maxPreviewTiles bounds the number of tile previews written per pool.
	maxPreviewTiles = 32
)

// Pipeline collects tiles from raw images and prepares the pools batches are drawn from.
type Pipeline struct {
	// cfg holds the generator configuration, validated by New
	cfg *config.Config

	// src is the single random source of the run
	src rng.Source

	// training and validation hold spatial-only tiles until Prepare, then the augmented,
	// normalized tiles of shape (spatial..., 1, 1)
	training   []*ndarray.Array
	validation []*ndarray.Array

	stats    normalize.Stats
	prepared bool
}

// New creates a pipeline for cfg drawing all randomness from src.
func New(cfg *config.Config, src rng.Source) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, src: src}, nil
}

// AddImage tiles img and adds the tiles to the pool selected by role. For models.Split the
// tiles are shuffled and the configured validation fraction of them is held out.
func (p *Pipeline) AddImage(img models.Image, role models.Role) error {
	if p.prepared {
		return ErrPrepared
	}
	klog.Infof("Tile %s data from %q, dimensions %s", role, img.Filename, img.Data)
	tiles, err := tiling.Tile(img.Data, p.cfg.Patch.NumDimensions, p.cfg.TileEdge())
	if err != nil {
		return errors.WithMessagef(err, "tiling %q", img.Filename)
	}

	switch role {
	case models.Training:
		p.training = append(p.training, tiles...)
	case models.Validation:
		p.validation = append(p.validation, tiles...)
	case models.Split:
		perm := p.src.Perm(len(tiles))
		trainEnd := int(float64(len(tiles)) * (1 - p.cfg.Training.ValidationFraction))
		for i, idx := range perm {
			if i < trainEnd {
				p.training = append(p.training, tiles[idx])
			} else {
				p.validation = append(p.validation, tiles[idx])
			}
		}
		klog.V(1).Infof("Split %d tiles of %q into %d training and %d validation tiles",
			len(tiles), img.Filename, trainEnd, len(tiles)-trainEnd)
	default:
		return errors.Errorf("unknown image role %d", role)
	}
	return nil
}

// AddImages calls AddImage for every image.
func (p *Pipeline) AddImages(images []models.Image, role models.Role) error {
	for _, img := range images {
		if err := p.AddImage(img, role); err != nil {
			return err
		}
	}
	return nil
}

// Prepare augments and normalizes both pools and checks that they can serve batches.
func (p *Pipeline) Prepare() error {
	if p.prepared {
		return ErrPrepared
	}
	if len(p.training) == 0 {
		return errors.Wrap(batch.ErrInsufficientData, "no training tiles")
	}
	if len(p.validation) == 0 {
		return errors.Wrap(ErrNoValidationData,
			"if the same data is used for training and validation, use a bigger dataset")
	}

	training, validation := p.training, p.validation
	if p.cfg.Data.Augment {
		klog.Infof("Augment tiles..")
		var err error
		if training, err = augment.Augment(training); err != nil {
			return errors.WithMessage(err, "augmenting training tiles")
		}
		if validation, err = augment.Augment(validation); err != nil {
			return errors.WithMessage(err, "augmenting validation tiles")
		}
	} else {
		training = augment.Reshape(training)
		validation = augment.Reshape(validation)
	}

	if err := p.checkPool("training", training); err != nil {
		return err
	}
	if err := p.checkPool("validation", validation); err != nil {
		return err
	}
	if len(training) < p.cfg.Training.BatchSize {
		return errors.Wrapf(batch.ErrInsufficientData, "%d training tiles, at least %d needed",
			len(training), p.cfg.Training.BatchSize)
	}

	klog.Infof("Normalizing..")
	stats, err := normalize.ComputeStats(training)
	if err != nil {
		return err
	}
	if err := normalize.Apply(training, stats); err != nil {
		return errors.WithMessage(err, "normalizing training tiles")
	}
	if err := normalize.Apply(validation, stats); err != nil {
		return errors.WithMessage(err, "normalizing validation tiles")
	}
	p.training, p.validation, p.stats = training, validation, stats

	nTrain, nVal := len(p.training), len(p.validation)
	if frac := float64(nVal) / float64(nTrain+nVal); frac < smallValidationFraction {
		klog.Warningf("Small number of validation tiles (only %.1f%% of all tiles)", 100*frac)
	}
	tileBytes := uint64(p.training[0].Size() * 8)
	klog.Infof("Training pool: %d tiles (%s), validation pool: %d tiles (%s)",
		nTrain, humanize.Bytes(uint64(nTrain)*tileBytes), nVal, humanize.Bytes(uint64(nVal)*tileBytes))

	if p.cfg.Output.SaveIntermediaryResults {
		if err := p.saveTiles("01_training_tiles", p.training); err != nil {
			klog.Warningf("Failed to save training tile previews: %v", err)
		}
		if err := p.saveTiles("02_validation_tiles", p.validation); err != nil {
			klog.Warningf("Failed to save validation tile previews: %v", err)
		}
	}

	p.prepared = true
	return nil
}

// Stats returns the normalization statistics computed by Prepare.
func (p *Pipeline) Stats() normalize.Stats { return p.stats }

// NumTraining returns the size of the training pool.
func (p *Pipeline) NumTraining() int { return len(p.training) }

// NumValidation returns the size of the validation pool.
func (p *Pipeline) NumValidation() int { return len(p.validation) }

// TrainingBatches returns a generator over the training pool.
func (p *Pipeline) TrainingBatches() (*batch.Wrapper, error) {
	if !p.prepared {
		return nil, ErrNotPrepared
	}
	klog.Infof("Prepare training batches...")
	return batch.New(p.training, p.batchParams(p.cfg.Training.BatchSize), p.src)
}

// ValidationBatches materializes every batch of the validation pool once. The batch size
// is the configured one, reduced to the validation pool size if that is smaller.
func (p *Pipeline) ValidationBatches() ([]batch.Pair, error) {
	if !p.prepared {
		return nil, ErrNotPrepared
	}
	klog.Infof("Prepare validation batches..")
	batchSize := min(p.cfg.Training.BatchSize, len(p.validation))
	w, err := batch.New(p.validation, p.batchParams(batchSize), p.src)
	if err != nil {
		return nil, errors.WithMessage(err, "validation batches")
	}
	pairs := make([]batch.Pair, w.NumBatches())
	for i := range pairs {
		if pairs[i], err = w.GetItem(i); err != nil {
			return nil, err
		}
	}
	return pairs, nil
}

// SaveBatchPreview writes previews of pair under stage in the intermediary directory when
// intermediary results are enabled.
func (p *Pipeline) SaveBatchPreview(stage string, pair batch.Pair) error {
	if !p.cfg.Output.SaveIntermediaryResults {
		return nil
	}
	dir := filepath.Join(p.cfg.Output.IntermediaryDir, stage)
	return imageio.SaveBatch(pair.X, pair.Y, p.cfg.Patch.NumDimensions, dir)
}

// checkPool verifies that all tiles share the shape of the first one and that the patch fits
// in it.
func (p *Pipeline) checkPool(name string, tiles []*ndarray.Array) error {
	first := tiles[0]
	for i, tile := range tiles {
		if !tile.SameShape(first) {
			return errors.Wrapf(ErrMixedTileShapes, "%s tile %d has shape %s, tile 0 has %s",
				name, i, tile, first)
		}
	}
	for i, d := range p.cfg.PatchShape() {
		if d > first.Dim(i) {
			return errors.Wrapf(sampling.ErrPatchTooLarge, "%s tiles %s, patch %v",
				name, first, p.cfg.PatchShape())
		}
	}
	return nil
}

func (p *Pipeline) batchParams(batchSize int) batch.Params {
	return batch.Params{
		PatchShape: p.cfg.PatchShape(),
		BatchSize:  batchSize,
		BoxSize:    p.cfg.BoxSize(),
		Radius:     p.cfg.Patch.NeighborhoodRadius,
		Strategy:   blindspot.UniformWithCenter,
		NumWorkers: p.cfg.Processing.NumWorkers,
	}
}

// saveTiles writes previews of at most maxPreviewTiles tiles.
func (p *Pipeline) saveTiles(stage string, tiles []*ndarray.Array) error {
	if len(tiles) > maxPreviewTiles {
		tiles = tiles[:maxPreviewTiles]
	}
	dir := filepath.Join(p.cfg.Output.IntermediaryDir, stage)
	if err := imageio.SaveTiles(tiles, p.cfg.Patch.NumDimensions, dir); err != nil {
		return errors.WithMessagef(err, "stage %s", stage)
	}
	return nil
}
