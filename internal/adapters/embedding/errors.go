package embedding

import "errors"

var (
	// ErrEmptyResponse is returned when the provider answers without a vector.
	ErrEmptyResponse = errors.New("embedding: empty response")
	// ErrRejected is returned for 4xx answers other than 429; retrying the
	// same request will not help.
	ErrRejected = errors.New("embedding: request rejected")
	// ErrUnknownProvider is returned by FromConfig for unsupported providers.
	ErrUnknownProvider = errors.New("embedding: unknown provider")
)
