// Package imageio loads raw images from disk into float arrays and writes preview images of
// tiles and training batches. It is an adapter around the generator, which itself never
// touches files.
package imageio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"n2vgen/internal/models"
	"n2vgen/pkg/ndarray"
)

// ErrNoImages is returned when a directory holds no file with a recognized extension.
var ErrNoImages = errors.New("no images found")

// LoadImage decodes one image file into a (Y, X) array of grayscale intensities in [0, 1].
func LoadImage(path string) (*ndarray.Array, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %q", path)
	}
	return ImageToArray(img), nil
}

// ImageToArray converts img to 16-bit grayscale and returns its samples as a (Y, X) array.
// 8-bit images map exactly onto the same [0, 1] values as their 16-bit counterparts.
func ImageToArray(img image.Image) *ndarray.Array {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := ndarray.New(height, width)
	data := out.Data()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			data[y*width+x] = float64(gray.Y) / 65535.0
		}
	}
	return out
}

// LoadDir loads every image in dir whose extension is in extensions, sorted by the number
// embedded in the filename so that slice stacks keep their order.
func LoadDir(dir string, extensions []string) ([]models.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading input directory %q", dir)
	}

	accepted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		accepted[strings.ToLower(ext)] = true
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if accepted[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "directory %q, extensions %v", dir, extensions)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	images := make([]models.Image, 0, len(files))
	for i, name := range files {
		data, err := LoadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		images = append(images, models.Image{Data: data, Filename: name, Index: i})
	}
	klog.Infof("Loaded %d images from %s", len(images), dir)
	return images, nil
}

// StackSlices stacks same-sized 2D images into one (Z, Y, X) volume, in order.
func StackSlices(images []models.Image) (models.Image, error) {
	if len(images) == 0 {
		return models.Image{}, ErrNoImages
	}
	first := images[0].Data
	if first.Rank() != 2 {
		return models.Image{}, errors.Errorf("slice %q is not 2D: %s", images[0].Filename, first)
	}
	height, width := first.Dim(0), first.Dim(1)
	volume := ndarray.New(len(images), height, width)
	size := height * width
	for z, img := range images {
		if !img.Data.SameShape(first) {
			return models.Image{}, errors.Errorf("slice %q has shape %s, expected %s",
				img.Filename, img.Data, first)
		}
		copy(volume.Data()[z*size:(z+1)*size], img.Data.Data())
	}
	return models.Image{Data: volume, Filename: images[0].Filename, Index: images[0].Index}, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
}
