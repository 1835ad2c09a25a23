package check

import "errors"

// Sentinel kinds for checker errors.
var (
	// ErrCheckRunning is returned when a run is requested while another is
	// in flight; runs are never queued or retried automatically.
	ErrCheckRunning = errors.New("consistency check already running")

	// ErrTooManyMismatches fails a run whose mismatch count exceeds the
	// configured cap. No partial report is persisted; reports are complete
	// or absent.
	ErrTooManyMismatches = errors.New("mismatch cap exceeded")
)
