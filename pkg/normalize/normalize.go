// Package normalize computes the global z-score statistics of a training tile pool, applies
// them to tiles and inverts them on network outputs.
//
// The same statistics must be used for training tiles, validation tiles and at prediction
// time, so they are computed once over the training pool and persisted next to the model.
package normalize

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"n2vgen/pkg/ndarray"
)

var (
	// ErrEmptyPool is returned when statistics are requested for no samples.
	ErrEmptyPool = errors.New("no samples to compute statistics from")

	// ErrZeroStdDev is returned when applying statistics of a constant pool.
	ErrZeroStdDev = errors.New("standard deviation is zero")
)

// Stats are the normalization statistics of a training run.
type Stats struct {
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"stdDev"`
}

// ComputeStats returns the mean and standard deviation over the concatenation of all tiles.
func ComputeStats(tiles []*ndarray.Array) (Stats, error) {
	n := 0
	for _, tile := range tiles {
		n += tile.Size()
	}
	if n == 0 {
		return Stats{}, ErrEmptyPool
	}
	all := make([]float64, 0, n)
	for _, tile := range tiles {
		all = append(all, tile.Data()...)
	}
	mean, std := stat.MeanStdDev(all, nil)
	if n == 1 {
		std = 0
	}
	klog.Infof("mean: %g", mean)
	klog.Infof("stdDev: %g", std)
	return Stats{Mean: mean, StdDev: std}, nil
}

// Apply normalizes every tile in place: x = (x - mean) / stdDev.
func Apply(tiles []*ndarray.Array, s Stats) error {
	if s.StdDev == 0 {
		return ErrZeroStdDev
	}
	for _, tile := range tiles {
		data := tile.Data()
		for i, v := range data {
			data[i] = (v - s.Mean) / s.StdDev
		}
	}
	return nil
}

// Invert undoes Apply on a in place: x = x * stdDev + mean.
func Invert(a *ndarray.Array, s Stats) {
	data := a.Data()
	for i, v := range data {
		data[i] = v*s.StdDev + s.Mean
	}
}

// Save writes the statistics as YAML, to be embedded by the model exporter.
func (s Stats) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", path)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshaling normalization stats")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "writing %q", path)
}

// LoadStats reads statistics written by Stats.Save.
func LoadStats(path string) (Stats, error) {
	var s Stats
	data, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrapf(err, "reading %q", path)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, errors.Wrapf(err, "parsing %q", path)
	}
	return s, nil
}
