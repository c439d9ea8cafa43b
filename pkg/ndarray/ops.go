package ndarray

import (
	"github.com/pkg/errors"
)

// Crop copies the box [start, start+size) out of a. start and size must have the array's
// rank and the box must lie inside the array.
func (a *Array) Crop(start, size []int) (*Array, error) {
	if len(start) != a.Rank() || len(size) != a.Rank() {
		return nil, errors.Wrapf(ErrShape, "crop start %v / size %v for array %s", start, size, a)
	}
	for i := range start {
		if start[i] < 0 || size[i] < 0 || start[i]+size[i] > a.shape[i] {
			return nil, errors.Wrapf(ErrShape, "crop box start %v size %v exceeds array %s", start, size, a)
		}
	}
	out := New(size...)
	src := make([]int, a.Rank())
	ForEach(size, func(pos []int) {
		for i, p := range pos {
			src[i] = start[i] + p
		}
		out.data[out.Offset(pos)] = a.data[a.Offset(src)]
	})
	return out, nil
}

// HyperSlice returns a copy of the (rank-1)-dimensional slice of a at index along axis.
func (a *Array) HyperSlice(axis, index int) (*Array, error) {
	if axis < 0 || axis >= a.Rank() || index < 0 || index >= a.shape[axis] {
		return nil, errors.Wrapf(ErrShape, "hyper-slice axis %d index %d of array %s", axis, index, a)
	}
	outShape := make([]int, 0, a.Rank()-1)
	outShape = append(outShape, a.shape[:axis]...)
	outShape = append(outShape, a.shape[axis+1:]...)
	out := New(outShape...)
	src := make([]int, a.Rank())
	ForEach(outShape, func(pos []int) {
		copy(src[:axis], pos[:axis])
		src[axis] = index
		copy(src[axis+1:], pos[axis:])
		out.data[out.Offset(pos)] = a.data[a.Offset(src)]
	})
	return out, nil
}

// AppendAxes returns an array sharing a's data with n trailing axes of size 1 appended.
func (a *Array) AppendAxes(n int) *Array {
	shape := a.Shape()
	for i := 0; i < n; i++ {
		shape = append(shape, 1)
	}
	return &Array{shape: shape, strides: stridesFor(shape), data: a.data}
}

// remap builds a new array of outShape where each output position reads the input
// position computed by srcOf.
func (a *Array) remap(outShape []int, srcOf func(dst, src []int)) *Array {
	out := New(outShape...)
	src := make([]int, a.Rank())
	ForEach(outShape, func(pos []int) {
		srcOf(pos, src)
		out.data[out.Offset(pos)] = a.data[a.Offset(src)]
	})
	return out
}

// Rotate90 rotates a by 90 degrees in the plane (from, to): the sample at s moves to t with
// t[to] = s[from] and t[from] = -s[to], after which the origin is moved back to zero.
// The extents of the two axes are swapped.
func (a *Array) Rotate90(from, to int) *Array {
	outShape := a.Shape()
	outShape[from], outShape[to] = a.shape[to], a.shape[from]
	lastTo := a.shape[to] - 1
	return a.remap(outShape, func(dst, src []int) {
		copy(src, dst)
		src[from] = dst[to]
		src[to] = lastTo - dst[from]
	})
}

// Flip mirrors a along axis.
func (a *Array) Flip(axis int) *Array {
	last := a.shape[axis] - 1
	return a.remap(a.Shape(), func(dst, src []int) {
		copy(src, dst)
		src[axis] = last - dst[axis]
	})
}
