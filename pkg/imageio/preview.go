package imageio

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"n2vgen/pkg/ndarray"
)

// ArrayToImage renders a (Y, X) array as a 16-bit grayscale image, stretching the value
// range of the array to the full intensity range. A constant array renders black.
func ArrayToImage(a *ndarray.Array) (image.Image, error) {
	if a.Rank() != 2 {
		return nil, errors.Wrapf(ndarray.ErrShape, "preview needs a 2D array, got %s", a)
	}
	height, width := a.Dim(0), a.Dim(1)
	img := image.NewGray16(image.Rect(0, 0, width, height))
	if a.Size() == 0 {
		return img, nil
	}

	data := a.Data()
	lo, hi := floats.Min(data), floats.Max(data)
	scale := 0.0
	if hi > lo {
		scale = 65535.0 / (hi - lo)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			value := (data[y*width+x] - lo) * scale
			img.SetGray16(x, y, color.Gray16{Y: uint16(value)})
		}
	}
	return img, nil
}

// Plane extracts the 2D spatial plane of slot and channel from a, laid out as
// (spatial..., batch, channel). For three spatial axes the middle Z plane is taken.
func Plane(a *ndarray.Array, numDimensions, slot, channel int) (*ndarray.Array, error) {
	if a.Rank() != numDimensions+2 {
		return nil, errors.Wrapf(ndarray.ErrShape, "array %s does not have %d spatial axes plus batch and channel",
			a, numDimensions)
	}
	plane, err := a.HyperSlice(numDimensions+1, channel)
	if err != nil {
		return nil, err
	}
	if plane, err = plane.HyperSlice(numDimensions, slot); err != nil {
		return nil, err
	}
	for plane.Rank() > 2 {
		if plane, err = plane.HyperSlice(0, plane.Dim(0)/2); err != nil {
			return nil, err
		}
	}
	return plane, nil
}

// SavePreview writes the (Y, X) array a to path. The format follows the file extension.
func SavePreview(a *ndarray.Array, path string) error {
	img, err := ArrayToImage(a)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create preview directory")
	}
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "failed to save preview %q", path)
	}
	return nil
}

// SaveTiles writes a preview of the first channel of each tile into dir.
func SaveTiles(tiles []*ndarray.Array, numDimensions int, dir string) error {
	for i, tile := range tiles {
		plane, err := Plane(tile, numDimensions, 0, 0)
		if err != nil {
			return errors.WithMessagef(err, "tile %d", i)
		}
		if err := SavePreview(plane, filepath.Join(dir, fmt.Sprintf("tile_%04d.png", i))); err != nil {
			return err
		}
	}
	return nil
}

// SaveBatch writes, for every slot of a training pair, the corrupted input, the original
// target values and the blind-spot mask of the first channel into dir.
func SaveBatch(x, y *ndarray.Array, numDimensions int, dir string) error {
	channels := x.Dim(numDimensions + 1)
	for slot := 0; slot < x.Dim(numDimensions); slot++ {
		views := []struct {
			name    string
			src     *ndarray.Array
			channel int
		}{
			{"input", x, 0},
			{"target", y, 0},
			{"mask", y, channels},
		}
		for _, v := range views {
			plane, err := Plane(v.src, numDimensions, slot, v.channel)
			if err != nil {
				return errors.WithMessagef(err, "%s of slot %d", v.name, slot)
			}
			path := filepath.Join(dir, fmt.Sprintf("slot_%03d_%s.png", slot, v.name))
			if err := SavePreview(plane, path); err != nil {
				return err
			}
		}
	}
	return nil
}
