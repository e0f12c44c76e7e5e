package similarity

import "errors"

var (
	// ErrUnavailable is returned when the embedding backend cannot produce a
	// usable vector: it failed, timed out, returned a malformed vector or is
	// cooling down after a recent failure.
	ErrUnavailable = errors.New("similarity: embedding backend unavailable")
	// ErrThrottled is wrapped by embedders that refuse a call to stay inside
	// a local quota. The backend is not marked unhealthy for it.
	ErrThrottled = errors.New("similarity: embedding quota exhausted")
	// ErrEmptyID is returned when adding a document without an id.
	ErrEmptyID = errors.New("similarity: empty document id")
)
