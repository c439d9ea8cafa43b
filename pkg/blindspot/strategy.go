package blindspot

import (
	"n2vgen/pkg/ndarray"
	"n2vgen/pkg/rng"
)

// Strategy computes the replacement value of a blind spot.
//
// patch is a single-channel view of one batch slot with shape (spatial..., 1); it always
// holds uncorrupted values. Only the spatial axes are addressed by coord.
type Strategy interface {
	Value(patch *ndarray.Array, coord Coordinate, radius int, src rng.Source) float64
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(patch *ndarray.Array, coord Coordinate, radius int, src rng.Source) float64

// Value implements Strategy.
func (f StrategyFunc) Value(patch *ndarray.Array, coord Coordinate, radius int, src rng.Source) float64 {
	return f(patch, coord, radius, src)
}

// UniformWithCenter draws the replacement uniformly from the (2*radius+1)-wide window around
// coord, the center pixel included.
var UniformWithCenter Strategy = StrategyFunc(uniformWithCenter)

func uniformWithCenter(patch *ndarray.Array, coord Coordinate, radius int, src rng.Source) float64 {
	start, size := Window(patch.Shape()[:len(coord)], coord, radius)
	pos := make([]int, patch.Rank())
	for i := range coord {
		pos[i] = start[i] + src.IntN(size[i])
	}
	return patch.At(pos...)
}

// Window returns the origin and extent of the neighborhood of coord within shape.
//
// The window is 2*radius+1 wide along every axis. Near an edge it is shifted inward rather
// than truncated, so it keeps its full width whenever the axis is at least that long;
// shorter axes are covered entirely.
func Window(shape []int, coord Coordinate, radius int) (start, size []int) {
	width := 2*radius + 1
	start = make([]int, len(coord))
	size = make([]int, len(coord))
	for i, c := range coord {
		s := c - radius
		if s < 0 {
			s = 0
		}
		end := s + width
		if end > shape[i] {
			s -= end - shape[i]
			end = shape[i]
		}
		if s < 0 {
			s = 0
		}
		start[i] = s
		size[i] = end - s
	}
	return start, size
}
