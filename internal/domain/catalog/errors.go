package catalog

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrNoMappingDefined      = errors.New("no mapping defined")
	ErrNoAttributeDefined    = errors.New("no attribute defined")
	ErrInvalidCatalogVersion = errors.New("invalid catalog version")
)
