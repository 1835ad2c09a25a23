// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lsg-lab/pointward/internal/domain/catalog"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/domain/points"
)

// AdminHandler serves catalog administration, quarantine listings and
// consistency check runs.
type AdminHandler struct {
	deps Dependencies
	auth *Authenticator
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps Dependencies, auth *Authenticator) *AdminHandler {
	return &AdminHandler{deps: deps, auth: auth}
}

// HandleAdmin dispatches the /admin/ surface.
func (h *AdminHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/admin/")

	// Reads are open to staff roles. Mutations are admin only, except
	// consistency checks, which researchers may also trigger.
	switch {
	case r.Method == http.MethodGet:
		if !h.auth.Allow(r, RoleAdmin, RoleTeacher, RoleResearcher) {
			writeError(w, http.StatusForbidden, "forbidden", ErrForbidden)
			return
		}
	case path == "points/consistency-check":
		if !h.auth.Allow(r, RoleAdmin, RoleResearcher) {
			writeError(w, http.StatusForbidden, "forbidden", ErrForbidden)
			return
		}
	default:
		if !h.auth.Allow(r, RoleAdmin) {
			writeError(w, http.StatusForbidden, "forbidden", ErrForbidden)
			return
		}
	}

	switch {
	case path == "catalog/attributes":
		h.handleAttributes(w, r)
	case path == "catalog/mappings":
		h.handleMappings(w, r)
	case path == "points/unmapped" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, h.deps.Unmapped(r.Context()))
	case path == "points/consistency-check":
		h.handleCheck(w, r)
	case strings.HasPrefix(path, "points/consistency-check/") && r.Method == http.MethodGet:
		h.handleCheckReport(w, r, strings.TrimPrefix(path, "points/consistency-check/"))
	case path == "points/rebuild" && r.Method == http.MethodPost:
		h.handleRebuild(w, r)
	default:
		http.NotFound(w, r)
	}
}

// attributeRequest is the wire shape for POST /admin/catalog/attributes.
type attributeRequest struct {
	AttributeID   string `json:"attribute_id"`
	Name          string `json:"name"`
	Aggregation   string `json:"aggregation_rule"`
	FormulaRef    string `json:"formula_ref"`
	EffectiveFrom string `json:"effective_from"`
}

func (h *AdminHandler) handleAttributes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.deps.Attributes(r.Context()))
	case http.MethodPost:
		var req attributeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		effectiveFrom, err := parseEffectiveFrom(req.EffectiveFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		v, err := h.deps.DefineAttribute(r.Context(), catalog.AttributeVersion{
			AttributeID:   req.AttributeID,
			Name:          req.Name,
			Aggregation:   points.Kind(req.Aggregation),
			FormulaRef:    req.FormulaRef,
			EffectiveFrom: effectiveFrom,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	default:
		http.NotFound(w, r)
	}
}

// mappingRequest is the wire shape for POST /admin/catalog/mappings.
type mappingRequest struct {
	DimensionID   string `json:"dimension_id"`
	MechanicID    string `json:"mechanic_id"`
	AttributeID   string `json:"attribute_id"`
	Weight        string `json:"weight"`
	EffectiveFrom string `json:"effective_from"`
}

func (h *AdminHandler) handleMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// With a dimension query the listing resolves the mappings active
		// at a point in time; without one it returns the full history.
		if dimension := r.URL.Query().Get("dimension"); dimension != "" {
			at := time.Now()
			if raw := r.URL.Query().Get("at"); raw != "" {
				parsed, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "bad_request", errors.New("invalid at; must be RFC3339"))
					return
				}
				at = parsed
			}
			active, err := h.deps.ActiveMappings(r.Context(), dimension, r.URL.Query().Get("mechanic"), at)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, active)
			return
		}
		writeJSON(w, http.StatusOK, h.deps.Mappings(r.Context()))
	case http.MethodPost:
		var req mappingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		effectiveFrom, err := parseEffectiveFrom(req.EffectiveFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		weight, err := points.Parse(req.Weight)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		v, err := h.deps.UpdateMapping(r.Context(), catalog.MappingVersion{
			DimensionID:   req.DimensionID,
			MechanicID:    req.MechanicID,
			AttributeID:   req.AttributeID,
			Weight:        weight,
			EffectiveFrom: effectiveFrom,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	default:
		http.NotFound(w, r)
	}
}

// checkRequest is the wire shape for POST /admin/points/consistency-check.
// An empty player_ids list means the full population.
type checkRequest struct {
	PlayerIDs []string `json:"player_ids"`
}

type checkStatusResponse struct {
	State   string         `json:"state"`
	Reports []model.Report `json:"reports"`
}

func (h *AdminHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, checkStatusResponse{
			State:   string(h.deps.CheckState()),
			Reports: h.deps.Reports(r.Context()),
		})
	case http.MethodPost:
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		report, err := h.deps.RunCheck(r.Context(), model.Scope{PlayerIDs: req.PlayerIDs})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		http.NotFound(w, r)
	}
}

func (h *AdminHandler) handleCheckReport(w http.ResponseWriter, r *http.Request, runID string) {
	if runID == "" || strings.Contains(runID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	report, err := h.deps.Report(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// rebuildRequest is the wire shape for POST /admin/points/rebuild.
type rebuildRequest struct {
	PlayerID    string `json:"player_id"`
	AttributeID string `json:"attribute_id"`
}

func (h *AdminHandler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.PlayerID == "" || req.AttributeID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing player_id or attribute_id"))
		return
	}
	b, err := h.deps.Rebuild(r.Context(), req.PlayerID, req.AttributeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func parseEffectiveFrom(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("missing effective_from")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid effective_from; must be RFC3339")
	}
	return t, nil
}
