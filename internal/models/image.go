package models

import (
	"n2vgen/pkg/ndarray"
)

// Image is a raw image read from disk with its float samples
type Image struct {
	// Data holds the samples with the spatial axes first (Y, X) or (Z, Y, X)
	Data *ndarray.Array

	// Filename is the file the image (or its first slice) was read from
	Filename string

	// Index is the position of this image in the sorted input listing
	Index int
}

// Role says which pool the tiles of an image end up in
type Role int

const (
	// Training images feed the training pool only
	Training Role = iota

	// Validation images feed the validation pool only
	Validation

	// Split images are tiled once and their tiles divided between both pools
	// according to the configured validation fraction
	Split
)

// String returns the role name used in log messages and flags
func (r Role) String() string {
	switch r {
	case Training:
		return "training"
	case Validation:
		return "validation"
	case Split:
		return "split"
	default:
		return "unknown"
	}
}
