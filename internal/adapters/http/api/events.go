// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	service "github.com/lsg-lab/pointward/internal/app"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/domain/points"
)

// EventsHandler handles event submissions.
type EventsHandler struct {
	deps Dependencies
	auth *Authenticator
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies, auth *Authenticator) *EventsHandler {
	return &EventsHandler{deps: deps, auth: auth}
}

// eventRequest is the wire shape for POST /events.
type eventRequest struct {
	PlayerID       string `json:"player_id"`
	Source         string `json:"source"`
	DimensionID    string `json:"dimension_id"`
	MechanicID     string `json:"mechanic_id"`
	RawValue       string `json:"raw_value"`
	OccurredAt     string `json:"occurred_at"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.PlayerID) == "":
		return errors.New("missing player_id")
	case strings.TrimSpace(e.Source) == "":
		return errors.New("missing source")
	case strings.TrimSpace(e.DimensionID) == "":
		return errors.New("missing dimension_id")
	case strings.TrimSpace(e.RawValue) == "":
		return errors.New("missing raw_value")
	case strings.TrimSpace(e.IdempotencyKey) == "":
		return errors.New("missing idempotency_key")
	case strings.TrimSpace(e.OccurredAt) == "":
		return errors.New("missing occurred_at")
	}
	if _, err := time.Parse(time.RFC3339, e.OccurredAt); err != nil {
		return errors.New("invalid occurred_at; must be RFC3339")
	}
	return nil
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	// Players may only submit their own events.
	if !h.auth.AllowPlayer(r, req.PlayerID) {
		writeError(w, http.StatusForbidden, "forbidden", ErrForbidden)
		return
	}

	raw, err := points.Parse(req.RawValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	occurredAt, _ := time.Parse(time.RFC3339, req.OccurredAt)

	res, err := h.deps.Ingest(r.Context(), service.IngestRequest{
		PlayerID:       req.PlayerID,
		Source:         model.Source(req.Source),
		DimensionID:    req.DimensionID,
		MechanicID:     req.MechanicID,
		RawValue:       raw,
		OccurredAt:     occurredAt,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true, Event: res.Event})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false, Event: res.Event})
}
