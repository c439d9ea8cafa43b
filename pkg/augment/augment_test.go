package augment

import (
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"n2vgen/pkg/ndarray"
)

func TestAugmentOrientations(t *testing.T) {
	tile := ndarray.New(2, 2)
	tile.Set(1, 0, 0)

	augmented, err := Augment([]*ndarray.Array{tile})
	require.NoError(t, err)
	require.Len(t, augmented, Variants)

	// Value at positions (0,0), (1,0), (1,1), (0,1) for every variant.
	want := [][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
		{0, 1, 0, 0},
		{1, 0, 0, 0},
		{0, 0, 0, 1},
		{0, 0, 1, 0},
	}
	for i, a := range augmented {
		require.Equal(t, []int{2, 2, 1, 1}, a.Shape())
		got := []float64{a.At(0, 0, 0, 0), a.At(1, 0, 0, 0), a.At(1, 1, 0, 0), a.At(0, 1, 0, 0)}
		assert.Equalf(t, want[i], got, "variant %d", i)
	}
}

func TestAugmentDistinctPermutations(t *testing.T) {
	// Distinct values make every one of the 8 orientations distinguishable.
	tile := ndarray.New(3, 3)
	for i := range tile.Data() {
		tile.Data()[i] = float64(i)
	}
	sortedOriginal := append([]float64(nil), tile.Data()...)
	sort.Float64s(sortedOriginal)

	augmented, err := Augment([]*ndarray.Array{tile})
	require.NoError(t, err)
	require.Len(t, augmented, 8)

	seen := make(map[string]bool)
	for _, a := range augmented {
		values := append([]float64(nil), a.Data()...)
		seen[key(values)] = true
		sort.Float64s(values)
		assert.Equal(t, sortedOriginal, values, "augmentation must permute the samples")
	}
	assert.Len(t, seen, 8)
}

func TestAugmentCubes(t *testing.T) {
	tiles := []*ndarray.Array{ndarray.New(4, 4, 4), ndarray.New(4, 4, 4)}
	tiles[0].Set(1, 0, 1, 2)
	augmented, err := Augment(tiles)
	require.NoError(t, err)
	require.Len(t, augmented, 16)
	for _, a := range augmented {
		assert.Equal(t, []int{4, 4, 4, 1, 1}, a.Shape())
	}
	// Rotations of tile 0 come right after the two originals.
	assert.Equal(t, 1.0, augmented[2].At(2, 0, 2, 0, 0))
}

func TestAugmentNotSquare(t *testing.T) {
	_, err := Augment([]*ndarray.Array{ndarray.New(4, 5)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotSquare))
}

func TestReshape(t *testing.T) {
	out := Reshape([]*ndarray.Array{ndarray.New(4, 5)})
	require.Len(t, out, 1)
	assert.Equal(t, []int{4, 5, 1, 1}, out[0].Shape())
}

func key(values []float64) string {
	b := make([]byte, 0, len(values))
	for _, v := range values {
		b = append(b, byte(v))
	}
	return string(b)
}
