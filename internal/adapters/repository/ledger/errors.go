package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	// ErrDuplicateEvent signals idempotent success: the event was already
	// recorded and the returned event is the stored one.
	ErrDuplicateEvent = errors.New("duplicate event")

	ErrInvalidEvent = errors.New("invalid event")
	ErrNotFound     = errors.New("event not found")
)
