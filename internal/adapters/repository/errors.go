package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("issue not found")
	ErrExists        = errors.New("issue already exists")
	ErrInvalidLimit  = errors.New("invalid board limit")
	ErrUnknownDriver = errors.New("unknown store driver")
)
