package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsDeterministic(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.IntN(1000), b.IntN(1000))
	}
	assert.Equal(t, New(7).Perm(10), New(7).Perm(10))
}

func TestSplit(t *testing.T) {
	p1, p2 := New(3), New(3)
	c1, c2 := Split(p1), Split(p2)
	assert.Equal(t, c1.Uint64(), c2.Uint64())

	// Consecutive children differ.
	d1 := Split(p1)
	assert.NotEqual(t, Split(New(3)).Uint64(), d1.Uint64())
}
