package blindspot

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"n2vgen/pkg/ndarray"
	"n2vgen/pkg/rng"
)

// Params configures a Masker.
type Params struct {
	// PatchShape is the spatial shape of the patches being masked.
	PatchShape []int

	// BoxSize is the side of the stratification grid cells.
	BoxSize int

	// Radius is the half-width of the neighborhood replacement values are drawn from.
	Radius int

	// Strategy computes replacement values. Defaults to UniformWithCenter.
	Strategy Strategy

	// NumWorkers bounds how many batch slots are masked concurrently. Values below 2 mask
	// sequentially. The result does not depend on it.
	NumWorkers int
}

// Masker turns a batch of clean patches into an (input, target) training pair.
type Masker struct {
	params Params
	src    rng.Source
}

// NewMasker validates params and returns a Masker drawing from src.
func NewMasker(params Params, src rng.Source) (*Masker, error) {
	if len(params.PatchShape) == 0 {
		return nil, errors.New("blind-spot masker needs a patch shape")
	}
	if params.BoxSize <= 0 {
		return nil, errors.Errorf("box size must be positive, got %d", params.BoxSize)
	}
	if params.Radius < 0 {
		return nil, errors.Errorf("neighborhood radius must be >= 0, got %d", params.Radius)
	}
	if params.Strategy == nil {
		params.Strategy = UniformWithCenter
	}
	params.PatchShape = append([]int(nil), params.PatchShape...)
	return &Masker{params: params, src: src}, nil
}

// Mask corrupts x, of shape (patch..., batch, channels), in place and returns the target y of
// shape (patch..., batch, 2*channels).
//
// For every slot and channel an independent set of stratified coordinates is drawn. y holds
// the original value of each blind spot in the first half of its channels and a 1 in the
// mask channel of the second half; x holds the replacement. Replacements are computed from
// the uncorrupted patch before anything is written.
func (m *Masker) Mask(x *ndarray.Array) (*ndarray.Array, error) {
	dims := len(m.params.PatchShape)
	shape := x.Shape()
	if len(shape) != dims+2 || !ndarray.EqualShapes(shape[:dims], m.params.PatchShape) {
		return nil, errors.Errorf("batch %s does not match patch shape %v", x, m.params.PatchShape)
	}
	batchSize, channels := shape[dims], shape[dims+1]
	yShape := append(append([]int(nil), m.params.PatchShape...), batchSize, 2*channels)
	y := ndarray.New(yShape...)

	// Child sources are split sequentially so results are reproducible for any worker count.
	sources := make([]*rand.Rand, batchSize)
	for j := range sources {
		sources[j] = rng.Split(m.src)
	}

	if m.params.NumWorkers < 2 {
		for j := 0; j < batchSize; j++ {
			m.maskSlot(x, y, j, sources[j])
		}
		return y, nil
	}
	var g errgroup.Group
	g.SetLimit(m.params.NumWorkers)
	for j := 0; j < batchSize; j++ {
		g.Go(func() error {
			m.maskSlot(x, y, j, sources[j])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return y, nil
}

// maskSlot masks every channel of batch slot j. Slots touch disjoint samples of x and y.
func (m *Masker) maskSlot(x, y *ndarray.Array, j int, src rng.Source) {
	dims := len(m.params.PatchShape)
	channels := x.Dim(dims + 1)
	pos := make([]int, dims+2)
	for c := 0; c < channels; c++ {
		patch := channelView(x, m.params.PatchShape, j, c)
		coords := StratifiedCoords(src, m.params.BoxSize, m.params.PatchShape)

		original := make([]float64, len(coords))
		replaced := make([]float64, len(coords))
		for k, coord := range coords {
			copy(pos, coord)
			pos[dims] = 0
			original[k] = patch.At(pos[:dims+1]...)
			replaced[k] = m.params.Strategy.Value(patch, coord, m.params.Radius, src)
		}

		pos[dims] = j
		for k, coord := range coords {
			copy(pos, coord)
			pos[dims+1] = c
			y.Set(original[k], pos...)
			pos[dims+1] = c + channels
			y.Set(1, pos...)
			pos[dims+1] = c
			x.Set(replaced[k], pos...)
		}
	}
}

// channelView copies channel c of slot j out of x, with a batch axis of size 1 appended.
func channelView(x *ndarray.Array, patchShape []int, j, c int) *ndarray.Array {
	dims := len(patchShape)
	view := ndarray.New(append(append([]int(nil), patchShape...), 1)...)
	src := make([]int, dims+2)
	dst := make([]int, dims+1)
	src[dims], src[dims+1] = j, c
	ndarray.ForEach(patchShape, func(pos []int) {
		copy(src, pos)
		copy(dst, pos)
		view.Data()[view.Offset(dst)] = x.Data()[x.Offset(src)]
	})
	return view
}

// CountBlindSpots returns, per batch slot, the sum of the mask channels of target y.
func CountBlindSpots(y *ndarray.Array) []float64 {
	shape := y.Shape()
	dims := len(shape) - 2
	batchSize, channels := shape[dims], shape[dims+1]/2
	counts := make([]float64, batchSize)
	values := make([]float64, 0, ndarray.Product(shape[:dims])*channels)
	pos := make([]int, len(shape))
	for j := 0; j < batchSize; j++ {
		values = values[:0]
		ndarray.ForEach(shape[:dims], func(p []int) {
			copy(pos, p)
			pos[dims] = j
			for c := channels; c < 2*channels; c++ {
				pos[dims+1] = c
				values = append(values, y.Data()[y.Offset(pos)])
			}
		})
		counts[j] = floats.Sum(values)
	}
	return counts
}
