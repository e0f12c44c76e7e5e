package service

import (
	"errors"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/repository"
)

// Sentinel kinds for engine errors.
var (
	// ErrDuplicate is returned by ReportIssue when the report matches an
	// existing issue and the caller did not force creation.
	ErrDuplicate = errors.New("report duplicates an existing issue")
	// ErrInFlight is returned when a submission with the same idempotency key
	// has not finished yet.
	ErrInFlight = errors.New("a submission with this idempotency key is in progress")
	// ErrNotStarted is returned by background operations before Start.
	ErrNotStarted = errors.New("engine not started")

	ErrNotFound     = repository.ErrNotFound
	ErrInvalidLimit = repository.ErrInvalidLimit
)
