package api

import (
	"errors"
	"net/http"

	"github.com/lsg-lab/pointward/internal/adapters/repository/balances"
	"github.com/lsg-lab/pointward/internal/adapters/repository/ledger"
	"github.com/lsg-lab/pointward/internal/adapters/repository/reports"
	"github.com/lsg-lab/pointward/internal/domain/catalog"
	"github.com/lsg-lab/pointward/internal/engine/check"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// statusFor maps a domain error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidEvent):
		return http.StatusBadRequest, "invalid_event"
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, balances.ErrNotFound),
		errors.Is(err, reports.ErrNotFound),
		errors.Is(err, catalog.ErrNoAttributeDefined):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, catalog.ErrNoMappingDefined):
		return http.StatusNotFound, "no_mapping_defined"
	case errors.Is(err, catalog.ErrInvalidCatalogVersion):
		return http.StatusConflict, "invalid_catalog_version"
	case errors.Is(err, check.ErrCheckRunning):
		return http.StatusConflict, "check_running"
	case errors.Is(err, balances.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
