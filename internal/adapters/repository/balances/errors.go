package balances

import "errors"

// Sentinel kinds for balance store errors.
var (
	ErrNotFound         = errors.New("balance not found")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrInvalidWatermark = errors.New("invalid watermark")
)
