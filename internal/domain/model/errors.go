package model

import (
	"errors"
	"fmt"
)

// ErrValidation is the kind shared by every input validation failure.
var ErrValidation = errors.New("validation failed")

// Validation failures. Each wraps ErrValidation.
var (
	ErrInvalidCoordinates = fmt.Errorf("%w: coordinates out of range", ErrValidation)
	ErrEmptyDescription   = fmt.Errorf("%w: description must not be empty", ErrValidation)
	ErrUnknownCategory    = fmt.Errorf("%w: unknown category", ErrValidation)
	ErrMissingCategory    = fmt.Errorf("%w: category is required", ErrValidation)
	ErrUnknownStatus      = fmt.Errorf("%w: unknown status", ErrValidation)
	ErrEmptyIdentity      = fmt.Errorf("%w: identity key must not be empty", ErrValidation)
	ErrEmptySearch        = fmt.Errorf("%w: search needs text or a location", ErrValidation)
	ErrInvalidRadius      = fmt.Errorf("%w: radius must be a non-negative number", ErrValidation)
)
