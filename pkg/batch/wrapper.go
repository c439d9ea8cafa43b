// Package batch serves (input, target) training pairs from a tile pool, one batch per step,
// with the pool order reshuffled at every epoch end.
package batch

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"n2vgen/pkg/blindspot"
	"n2vgen/pkg/ndarray"
	"n2vgen/pkg/rng"
	"n2vgen/pkg/sampling"
)

var (
	// ErrInsufficientData is returned when the pool holds fewer tiles than one batch.
	ErrInsufficientData = errors.New("not enough training data")

	// ErrBatchIndex is returned by GetItem for indices outside [0, NumBatches).
	ErrBatchIndex = errors.New("batch index out of range")
)

// Pair is one training sample batch: X is the corrupted input, Y the target holding the
// original values and the blind-spot mask.
type Pair struct {
	X *ndarray.Array
	Y *ndarray.Array
}

// Params configures a Wrapper.
type Params struct {
	PatchShape []int
	BatchSize  int
	BoxSize    int
	Radius     int

	// Strategy computes blind-spot replacement values; nil selects
	// blindspot.UniformWithCenter.
	Strategy blindspot.Strategy

	// NumWorkers is forwarded to the masker.
	NumWorkers int
}

// Wrapper composes the patch sampler and the blind-spot masker over a fixed tile pool.
//
// A Wrapper is not safe for concurrent use.
type Wrapper struct {
	pool      []*ndarray.Array
	batchSize int
	sampler   *sampling.Sampler
	masker    *blindspot.Masker
	src       rng.Source

	perm   []int
	cursor int
}

// New validates the pool against params and draws the first permutation.
func New(pool []*ndarray.Array, params Params, src rng.Source) (*Wrapper, error) {
	if params.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", params.BatchSize)
	}
	if params.BatchSize > len(pool) {
		return nil, errors.Wrapf(ErrInsufficientData, "%d tiles, at least %d needed", len(pool), params.BatchSize)
	}
	sampler, err := sampling.New(pool[0], params.PatchShape, src)
	if err != nil {
		return nil, err
	}
	masker, err := blindspot.NewMasker(blindspot.Params{
		PatchShape: params.PatchShape,
		BoxSize:    params.BoxSize,
		Radius:     params.Radius,
		Strategy:   params.Strategy,
		NumWorkers: params.NumWorkers,
	}, src)
	if err != nil {
		return nil, err
	}
	w := &Wrapper{
		pool:      pool,
		batchSize: params.BatchSize,
		sampler:   sampler,
		masker:    masker,
		src:       src,
		perm:      src.Perm(len(pool)),
	}
	bytesPerBatch := 3 * ndarray.Product(params.PatchShape) * params.BatchSize * sampler.Channels() * 8
	klog.V(1).Infof("Batch wrapper over %d tiles: %d batches of %d, %s per (X, Y) pair",
		len(pool), w.NumBatches(), w.batchSize, humanize.Bytes(uint64(bytesPerBatch)))
	return w, nil
}

// NumBatches is ceil(pool size / batch size).
func (w *Wrapper) NumBatches() int {
	return (len(w.pool) + w.batchSize - 1) / w.batchSize
}

// BatchSize returns the number of slots per batch.
func (w *Wrapper) BatchSize() int { return w.batchSize }

// GetItem materializes batch i of the current permutation. The last batch, if partial,
// is completed with tiles from the start of the permutation.
func (w *Wrapper) GetItem(i int) (Pair, error) {
	if i < 0 || i >= w.NumBatches() {
		return Pair{}, errors.Wrapf(ErrBatchIndex, "batch %d of %d", i, w.NumBatches())
	}
	indices := make([]int, w.batchSize)
	for j := range indices {
		indices[j] = w.perm[(i*w.batchSize+j)%len(w.perm)]
	}
	x, err := w.sampler.Sample(w.pool, indices)
	if err != nil {
		return Pair{}, errors.WithMessagef(err, "sampling batch %d", i)
	}
	y, err := w.masker.Mask(x)
	if err != nil {
		return Pair{}, errors.WithMessagef(err, "masking batch %d", i)
	}
	return Pair{X: x, Y: y}, nil
}

// Next returns the batch at the step cursor and advances it. When the next full batch
// would run past the end of the pool the cursor goes back to the first batch.
func (w *Wrapper) Next() (Pair, error) {
	if (w.cursor+1)*w.batchSize > len(w.pool) {
		klog.Infof("Starting with index 0 of training batches")
		w.cursor = 0
	}
	pair, err := w.GetItem(w.cursor)
	if err != nil {
		return Pair{}, err
	}
	w.cursor++
	return pair, nil
}

// OnEpochEnd draws a new permutation of the pool.
func (w *Wrapper) OnEpochEnd() {
	w.perm = w.src.Perm(len(w.pool))
}
