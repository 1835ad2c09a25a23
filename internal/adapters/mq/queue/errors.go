package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	// ErrClosed is returned when an event is offered to a closed queue.
	ErrClosed = errors.New("queue closed")
)
