// Package sampling draws the random patches of one training step from a pool of tiles.
package sampling

import (
	"github.com/pkg/errors"

	"n2vgen/pkg/ndarray"
	"n2vgen/pkg/rng"
)

// ErrPatchTooLarge is returned when the patch does not fit in the tiles.
var ErrPatchTooLarge = errors.New("patch shape larger than tile")

// Sampler crops patches of a fixed spatial shape at uniformly random origins.
//
// Pool tiles have shape (spatial..., 1, channels); all of them share the same shape.
type Sampler struct {
	patchShape []int
	tileShape  []int
	// rangeMax[i] is the largest valid crop origin along spatial axis i.
	rangeMax []int
	channels int
	src      rng.Source
}

// New creates a sampler for tiles shaped like tile.
func New(tile *ndarray.Array, patchShape []int, src rng.Source) (*Sampler, error) {
	dims := len(patchShape)
	if tile.Rank() != dims+2 {
		return nil, errors.Errorf("tile %s must have %d spatial axes plus batch and channel axes", tile, dims)
	}
	if tile.Dim(dims) != 1 {
		return nil, errors.Errorf("tile %s must have a batch axis of size 1", tile)
	}
	s := &Sampler{
		patchShape: append([]int(nil), patchShape...),
		tileShape:  tile.Shape(),
		rangeMax:   make([]int, dims),
		channels:   tile.Dim(dims + 1),
		src:        src,
	}
	for i, p := range patchShape {
		s.rangeMax[i] = tile.Dim(i) - p
		if s.rangeMax[i] < 0 {
			return nil, errors.Wrapf(ErrPatchTooLarge, "patch %v, tile %s", patchShape, tile)
		}
	}
	return s, nil
}

// Channels is the number of channels of the sampled patches.
func (s *Sampler) Channels() int { return s.channels }

// PatchShape returns the spatial patch shape.
func (s *Sampler) PatchShape() []int { return append([]int(nil), s.patchShape...) }

// Sample returns a batch of shape (patch..., len(indices), channels) where slot j is a crop
// of pool[indices[j]] at an origin drawn independently for that slot.
func (s *Sampler) Sample(pool []*ndarray.Array, indices []int) (*ndarray.Array, error) {
	dims := len(s.patchShape)
	outShape := append(s.PatchShape(), len(indices), s.channels)
	out := ndarray.New(outShape...)

	start := make([]int, dims)
	src := make([]int, dims+2)
	dst := make([]int, dims+2)
	for slot, idx := range indices {
		if idx < 0 || idx >= len(pool) {
			return nil, errors.Errorf("tile index %d out of range for pool of %d", idx, len(pool))
		}
		tile := pool[idx]
		if !ndarray.EqualShapes(tile.Shape(), s.tileShape) {
			return nil, errors.Errorf("tile %d has shape %s, expected %v", idx, tile, s.tileShape)
		}
		for i := range start {
			start[i] = s.src.IntN(s.rangeMax[i] + 1)
		}
		ndarray.ForEach(s.patchShape, func(pos []int) {
			for i, p := range pos {
				src[i] = start[i] + p
				dst[i] = p
			}
			src[dims], dst[dims] = 0, slot
			for c := 0; c < s.channels; c++ {
				src[dims+1], dst[dims+1] = c, c
				out.Data()[out.Offset(dst)] = tile.Data()[tile.Offset(src)]
			}
		})
	}
	return out, nil
}
