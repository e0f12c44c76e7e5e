package scoring

import "errors"

var (
	// ErrNegativeWeight is returned for a negative or NaN weight.
	ErrNegativeWeight = errors.New("scoring: weights must be non-negative")
	// ErrInvalidHorizon is returned for a non-positive decay horizon.
	ErrInvalidHorizon = errors.New("scoring: decay horizon must be positive")
)
