package geo

import "errors"

// Sentinel kinds for geo index errors.
var (
	ErrEmptyID       = errors.New("geo: empty id")
	ErrInvalidRadius = errors.New("geo: radius must be a non-negative number")
)
