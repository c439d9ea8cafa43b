// Package tiling cuts raw images into equally sized, non-overlapping hypercube tiles, the
// units training and validation patches are later cropped from.
package tiling

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"n2vgen/pkg/ndarray"
)

// ErrDimensions is returned for a number of spatial dimensions other than 2 or 3, or an
// image with fewer axes than that.
var ErrDimensions = errors.New("unsupported number of spatial dimensions")

// Tile splits img into hypercube tiles along its first numDimensions axes.
//
// The tile edge is edgeLength clipped to the smallest spatial dimension of img. Axes after
// the spatial ones (an existing stack or time axis) are sliced off one at a time and every
// slice is tiled on its own. Blocks that do not fit completely at the far edges are dropped.
// All returned tiles have shape (edge, ..., edge) with numDimensions axes. An image that
// yields no tile at all logs a warning and returns an empty result.
func Tile(img *ndarray.Array, numDimensions, edgeLength int) ([]*ndarray.Array, error) {
	if numDimensions != 2 && numDimensions != 3 {
		return nil, errors.Wrapf(ErrDimensions, "got %d", numDimensions)
	}
	if img.Rank() < numDimensions {
		return nil, errors.Wrapf(ErrDimensions, "image %s has fewer than %d axes", img, numDimensions)
	}
	if edgeLength <= 0 {
		return nil, errors.Errorf("tile edge length must be positive, got %d", edgeLength)
	}

	edge := SmallestSpatialDim(img, numDimensions)
	if edge == 0 {
		klog.Warningf("Image %s is empty, no tiles generated", img)
		return nil, nil
	}
	if edge > edgeLength {
		edge = edgeLength
	} else if edge < edgeLength {
		klog.Warningf("Requested tile edge %d is larger than the smallest spatial dimension of image %s, using %d",
			edgeLength, img, edge)
	}
	tileShape := make([]int, numDimensions)
	for i := range tileShape {
		tileShape[i] = edge
	}

	tiles, err := extract(img, tileShape)
	if err != nil {
		return nil, err
	}
	if len(tiles) == 0 {
		klog.Warningf("Image %s produced no tiles of shape %v", img, tileShape)
		return nil, nil
	}
	klog.Infof("Generated %d tiles of shape %v", len(tiles), tileShape)
	return tiles, nil
}

// SmallestSpatialDim returns the smallest extent among the first numDimensions axes.
func SmallestSpatialDim(img *ndarray.Array, numDimensions int) int {
	smallest := img.Dim(0)
	for i := 1; i < numDimensions && i < img.Rank(); i++ {
		if d := img.Dim(i); d < smallest {
			smallest = d
		}
	}
	return smallest
}

// extract recurses over the non-spatial axes until only spatial ones remain.
func extract(img *ndarray.Array, tileShape []int) ([]*ndarray.Array, error) {
	spatial := len(tileShape)
	if img.Rank() == spatial {
		return extractNoSlicing(img, tileShape)
	}
	var tiles []*ndarray.Array
	for i := 0; i < img.Dim(spatial); i++ {
		slice, err := img.HyperSlice(spatial, i)
		if err != nil {
			return nil, err
		}
		sliceTiles, err := extract(slice, tileShape)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, sliceTiles...)
	}
	return tiles, nil
}

func extractNoSlicing(img *ndarray.Array, tileShape []int) ([]*ndarray.Array, error) {
	for i, d := range tileShape {
		if d > img.Dim(i) {
			klog.Warningf("Tile shape %v is too big for image slice %s", tileShape, img)
			return nil, nil
		}
	}

	// Number of whole tiles along each axis; the sweep is row-major over this grid.
	counts := make([]int, len(tileShape))
	for i, d := range tileShape {
		counts[i] = img.Dim(i) / d
	}
	var tiles []*ndarray.Array
	var cropErr error
	start := make([]int, len(tileShape))
	ndarray.ForEach(counts, func(cell []int) {
		if cropErr != nil {
			return
		}
		for i, c := range cell {
			start[i] = c * tileShape[i]
		}
		tile, err := img.Crop(start, tileShape)
		if err != nil {
			cropErr = err
			return
		}
		tiles = append(tiles, tile)
	})
	if cropErr != nil {
		return nil, cropErr
	}
	return tiles, nil
}
