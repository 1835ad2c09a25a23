// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strconv"
	"strings"
)

// PlayersHandler serves per-player balance and history reads.
type PlayersHandler struct {
	deps Dependencies
	auth *Authenticator
}

// NewPlayersHandler creates a new players handler.
func NewPlayersHandler(deps Dependencies, auth *Authenticator) *PlayersHandler {
	return &PlayersHandler{deps: deps, auth: auth}
}

// HandlePlayers dispatches GET /players/{id}/balances,
// GET /players/{id}/balances/{attribute_id} and GET /players/{id}/history.
func (h *PlayersHandler) HandlePlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/players/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	playerID := parts[0]

	if !h.auth.AllowPlayer(r, playerID) {
		writeError(w, http.StatusForbidden, "forbidden", ErrForbidden)
		return
	}

	switch {
	case parts[1] == "balances" && len(parts) == 2:
		writeJSON(w, http.StatusOK, h.deps.Balances(r.Context(), playerID))
	case parts[1] == "balances" && len(parts) == 3 && parts[2] != "":
		b, err := h.deps.Balance(r.Context(), playerID, parts[2])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	case parts[1] == "history" && len(parts) == 2:
		h.handleHistory(w, r, playerID)
	default:
		http.NotFound(w, r)
	}
}

func (h *PlayersHandler) handleHistory(w http.ResponseWriter, r *http.Request, playerID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		limit = n
	}

	events, err := h.deps.History(r.Context(), playerID, r.URL.Query().Get("dimension"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
