package reports

import "errors"

// Sentinel kinds for report store errors.
var (
	ErrNotFound      = errors.New("report not found")
	ErrAlreadyStored = errors.New("report already stored")
	ErrInvalidReport = errors.New("invalid report")
)
