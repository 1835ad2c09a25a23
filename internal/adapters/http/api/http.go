// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	service "github.com/lsg-lab/pointward/internal/app"
	"github.com/lsg-lab/pointward/internal/domain/catalog"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/engine/check"
	"github.com/lsg-lab/pointward/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Ingestion.
	Ingest(ctx context.Context, req service.IngestRequest) (service.IngestResult, error)

	// Read operations over balances and the ledger.
	Balance(ctx context.Context, playerID, attributeID string) (model.Balance, error)
	Balances(ctx context.Context, playerID string) []model.Balance
	History(ctx context.Context, playerID, dimensionID string, limit int) ([]model.Event, error)
	Unmapped(ctx context.Context) []model.UnmappedEvent

	// Catalog administration.
	DefineAttribute(ctx context.Context, v catalog.AttributeVersion) (catalog.AttributeVersion, error)
	UpdateMapping(ctx context.Context, v catalog.MappingVersion) (catalog.MappingVersion, error)
	Attributes(ctx context.Context) []catalog.AttributeVersion
	Mappings(ctx context.Context) []catalog.MappingVersion
	ActiveMappings(ctx context.Context, dimensionID, mechanicID string, at time.Time) ([]catalog.MappingVersion, error)

	// Consistency checking and repair.
	RunCheck(ctx context.Context, scope model.Scope) (model.Report, error)
	CheckState() check.State
	Report(ctx context.Context, runID string) (model.Report, error)
	Reports(ctx context.Context) []model.Report
	Rebuild(ctx context.Context, playerID, attributeID string) (model.Balance, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	auth           *Authenticator
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	eventsHandler  *EventsHandler
	playersHandler *PlayersHandler
	adminHandler   *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, auth *Authenticator) *Server {
	return &Server{
		auth:           auth,
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		eventsHandler:  NewEventsHandler(deps, auth),
		playersHandler: NewPlayersHandler(deps, auth),
		adminHandler:   NewAdminHandler(deps, auth),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", s.auth.Middleware(MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events")))
	mux.HandleFunc("/players/", s.auth.Middleware(MetricsMiddleware(s.playersHandler.HandlePlayers, "players")))
	mux.HandleFunc("/admin/", s.auth.Middleware(MetricsMiddleware(s.adminHandler.HandleAdmin, "admin")))
}

type ackResponse struct {
	Status    string      `json:"status"`
	Duplicate bool        `json:"duplicate"`
	Event     model.Event `json:"event"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates a domain error into its HTTP shape.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}
