// Package augment expands a set of square (or cubic) tiles with their rotated and mirrored
// orientations and brings tiles into the (spatial..., batch, channel) axis order.
package augment

import (
	"github.com/pkg/errors"

	"n2vgen/pkg/ndarray"
)

// ErrNotSquare is returned when tiles with unequal spatial edges are augmented.
var ErrNotSquare = errors.New("augmentation requires square tiles")

// Variants is the number of orientations produced per input tile.
const Variants = 8

// Augment returns the 8 dihedral orientations of every tile, each with a batch and a
// channel axis of size 1 appended.
//
// Output order: the input tiles, then the 90, 180 and 270 degree rotations (plane of
// spatial axes 0 and 1) of each input tile, then the mirror along axis 0 of every tile
// listed so far, in the same order.
func Augment(tiles []*ndarray.Array) ([]*ndarray.Array, error) {
	if len(tiles) == 0 {
		return nil, nil
	}
	for i, tile := range tiles {
		if !isSquare(tile) {
			return nil, errors.Wrapf(ErrNotSquare, "tile %d has shape %s", i, tile)
		}
		if !tile.SameShape(tiles[0]) {
			return nil, errors.Errorf("tile %d has shape %s, tile 0 has %s", i, tile, tiles[0])
		}
	}

	out := make([]*ndarray.Array, 0, Variants*len(tiles))
	out = append(out, tiles...)
	for _, tile := range tiles {
		r1 := tile.Rotate90(0, 1)
		r2 := r1.Rotate90(0, 1)
		out = append(out, r1, r2, r2.Rotate90(0, 1))
	}
	rotated := len(out)
	for i := 0; i < rotated; i++ {
		out = append(out, out[i].Flip(0))
	}
	return Reshape(out), nil
}

// Reshape appends a batch and a channel axis of size 1 to every tile.
func Reshape(tiles []*ndarray.Array) []*ndarray.Array {
	out := make([]*ndarray.Array, len(tiles))
	for i, tile := range tiles {
		out[i] = tile.AppendAxes(2)
	}
	return out
}

func isSquare(tile *ndarray.Array) bool {
	if tile.Rank() < 2 {
		return false
	}
	for i := 1; i < tile.Rank(); i++ {
		if tile.Dim(i) != tile.Dim(0) {
			return false
		}
	}
	return true
}
