// Package blindspot selects the blind-spot pixels of a training patch, replaces their values
// with samples from their neighborhood and records the originals and a mask as the target.
package blindspot

import (
	"n2vgen/pkg/ndarray"
	"n2vgen/pkg/rng"
)

// Coordinate is a point in the spatial axes of a patch.
type Coordinate []int

// StratifiedCoords partitions shape into a grid of boxes of side boxSize and draws one
// uniformly jittered point per box. Points that land outside shape (only possible in the
// last box along an axis whose extent is not a multiple of boxSize) are dropped, not
// re-sampled.
func StratifiedCoords(src rng.Source, boxSize int, shape []int) []Coordinate {
	if boxSize <= 0 {
		return nil
	}
	boxCount := make([]int, len(shape))
	for i, d := range shape {
		boxCount[i] = (d + boxSize - 1) / boxSize
	}

	coords := make([]Coordinate, 0, ndarray.Product(boxCount))
	ndarray.ForEach(boxCount, func(cell []int) {
		p := make(Coordinate, len(shape))
		inside := true
		for i := range shape {
			p[i] = cell[i]*boxSize + src.IntN(boxSize)
			if p[i] >= shape[i] {
				inside = false
			}
		}
		if inside {
			coords = append(coords, p)
		}
	})
	return coords
}
