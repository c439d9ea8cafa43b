// Package ndarray provides the dense N-dimensional float arrays used for images, tiles,
// patches and training batches.
//
// Data is stored in row-major order: the last axis varies fastest. For the image axis order
// used throughout the generator (spatial axes, then batch, then channel) this means the
// channel values of one pixel are contiguous.
package ndarray

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrShape is returned when an operation receives positions or extents that do not match
// the array.
var ErrShape = errors.New("shape mismatch")

// Array is a dense row-major array of float64 samples.
type Array struct {
	shape   []int
	strides []int
	data    []float64
}

// New allocates a zero-filled array with the given shape.
func New(shape ...int) *Array {
	size := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("ndarray.New: negative dimension in shape %v", shape))
		}
		size *= d
	}
	return &Array{
		shape:   append([]int(nil), shape...),
		strides: stridesFor(shape),
		data:    make([]float64, size),
	}
}

// FromData wraps data (without copying) with the given shape.
func FromData(data []float64, shape ...int) (*Array, error) {
	size := 1
	for _, d := range shape {
		if d < 0 {
			return nil, errors.Wrapf(ErrShape, "negative dimension in %v", shape)
		}
		size *= d
	}
	if size != len(data) {
		return nil, errors.Wrapf(ErrShape, "shape %v holds %d values, got %d", shape, size, len(data))
	}
	return &Array{
		shape:   append([]int(nil), shape...),
		strides: stridesFor(shape),
		data:    data,
	}, nil
}

func stridesFor(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= shape[i]
	}
	return strides
}

// Shape returns a copy of the array's dimensions.
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// Rank is the number of axes.
func (a *Array) Rank() int { return len(a.shape) }

// Dim returns the extent of one axis.
func (a *Array) Dim(axis int) int { return a.shape[axis] }

// Size is the total number of samples.
func (a *Array) Size() int { return len(a.data) }

// Data exposes the underlying row-major buffer.
func (a *Array) Data() []float64 { return a.data }

// Offset converts a position into an index of Data.
func (a *Array) Offset(pos []int) int {
	idx := 0
	for i, p := range pos {
		idx += p * a.strides[i]
	}
	return idx
}

// At returns the sample at pos. It panics if pos is out of range, like slice indexing.
func (a *Array) At(pos ...int) float64 {
	a.checkPos(pos)
	return a.data[a.Offset(pos)]
}

// Set stores v at pos.
func (a *Array) Set(v float64, pos ...int) {
	a.checkPos(pos)
	a.data[a.Offset(pos)] = v
}

func (a *Array) checkPos(pos []int) {
	if len(pos) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: position %v has rank %d, array has shape %v", pos, len(pos), a.shape))
	}
	for i, p := range pos {
		if p < 0 || p >= a.shape[i] {
			panic(fmt.Sprintf("ndarray: position %v out of range for shape %v", pos, a.shape))
		}
	}
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	b := New(a.shape...)
	copy(b.data, a.data)
	return b
}

// SameShape reports whether a and b have identical dimensions.
func (a *Array) SameShape(b *Array) bool {
	return EqualShapes(a.shape, b.shape)
}

// EqualShapes compares two dimension lists.
func EqualShapes(s1, s2 []int) bool {
	if len(s1) != len(s2) {
		return false
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			return false
		}
	}
	return true
}

// String prints the shape only; arrays are usually too large to print.
func (a *Array) String() string {
	parts := make([]string, len(a.shape))
	for i, d := range a.shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Fill sets every sample to v.
func (a *Array) Fill(v float64) {
	for i := range a.data {
		a.data[i] = v
	}
}

// ForEach calls fn with every position of shape in row-major order. The pos slice is reused
// between calls and must not be retained.
func ForEach(shape []int, fn func(pos []int)) {
	for _, d := range shape {
		if d == 0 {
			return
		}
	}
	pos := make([]int, len(shape))
	for {
		fn(pos)
		axis := len(shape) - 1
		for ; axis >= 0; axis-- {
			pos[axis]++
			if pos[axis] < shape[axis] {
				break
			}
			pos[axis] = 0
		}
		if axis < 0 {
			return
		}
	}
}

// Product multiplies the extents of shape.
func Product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
