package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when an iteration does not exist.
	ErrNotFound = errors.New("iteration not found")

	// ErrInvalidID is returned for iteration ids that could address
	// anything outside the iterations directory.
	ErrInvalidID = errors.New("invalid iteration id")
)
