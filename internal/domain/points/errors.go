package points

import "errors"

// Sentinel kinds for points errors.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrUnknownAggregation = errors.New("unknown aggregation kind")
	ErrUnknownFormula     = errors.New("unknown formula")
	ErrInvalidFormula     = errors.New("invalid formula")
	ErrDuplicateFormula   = errors.New("formula already registered")
)
