package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrUnknownKind = errors.New("queue: unknown task kind")
)
