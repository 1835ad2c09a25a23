// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/lsg-lab/pointward/internal/adapters/mq/queue"
	workerpool "github.com/lsg-lab/pointward/internal/adapters/mq/worker"
	"github.com/lsg-lab/pointward/internal/adapters/repository/balances"
	"github.com/lsg-lab/pointward/internal/adapters/repository/ledger"
	"github.com/lsg-lab/pointward/internal/adapters/repository/reports"
	"github.com/lsg-lab/pointward/internal/domain/catalog"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/domain/points"
	"github.com/lsg-lab/pointward/internal/engine/check"
	"github.com/lsg-lab/pointward/internal/engine/derive"
	"github.com/lsg-lab/pointward/pkg/logger"
	"github.com/lsg-lab/pointward/pkg/metrics"
)

// lockStripes is the number of per-player ingest locks. Same-player ingests
// are serialized through one stripe so ledger append order and queue order
// always agree; different players rarely collide.
const lockStripes = 64

// IngestRequest carries one event submission.
type IngestRequest struct {
	PlayerID       string        `json:"player_id"`
	Source         model.Source  `json:"source"`
	DimensionID    string        `json:"dimension_id"`
	MechanicID     string        `json:"mechanic_id,omitempty"`
	RawValue       points.Amount `json:"raw_value"`
	OccurredAt     time.Time     `json:"occurred_at"`
	IdempotencyKey string        `json:"idempotency_key"`
}

// IngestResult reports what the ledger recorded. Duplicate submissions are
// idempotent successes: the caller gets the originally stored event back.
type IngestResult struct {
	Event     model.Event `json:"event"`
	Duplicate bool        `json:"duplicate"`
}

// Service wires the ledger, catalog, derivation engine and checker together
// behind one API surface.
type Service struct {
	mu sync.RWMutex

	// Core components
	ledger   *ledger.MemoryStore
	balances *balances.Store
	reports  *reports.Store
	catalog  *catalog.Catalog
	engine   *derive.Engine
	checker  *check.Checker
	queue    *eventqueue.ShardedQueue
	pool     *workerpool.Pool

	// Configuration
	workerCount        int
	queueSize          int
	maxHistoryLimit    int
	maxCheckMismatches int

	// State
	locks   [lockStripes]sync.Mutex
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of derivation workers (queue shards).
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the total capacity of the derivation queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxHistoryLimit caps the number of events a history query returns.
func WithMaxHistoryLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxHistoryLimit = limit
		}
	}
}

// WithMaxCheckMismatches caps the mismatches tolerated in one consistency
// run; exceeding the cap fails the run. Zero means unlimited.
func WithMaxCheckMismatches(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxCheckMismatches = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     runtime.NumCPU() * 2,
		queueSize:       100_000,
		maxHistoryLimit: 500,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting points service...")

	s.ledger = ledger.NewMemoryStore()
	s.balances = balances.New()
	s.reports = reports.New()
	s.catalog = catalog.New()
	s.engine = derive.New(s.ledger, s.balances, s.catalog,
		derive.WithLogger(s.logger.Named("derive")),
	)
	s.checker = check.New(s.engine, s.ledger, s.balances, s.reports,
		check.WithLogger(s.logger.Named("check")),
		check.WithMaxMismatches(s.maxCheckMismatches),
	)

	perShard := s.queueSize / s.workerCount
	if perShard < 1 {
		perShard = 1
	}
	s.queue = eventqueue.NewShardedQueue(
		eventqueue.WithShardCount(s.workerCount),
		eventqueue.WithShardCapacity(perShard),
	)
	s.pool = workerpool.NewPool(s.queue, s.engine,
		workerpool.WithLogger(s.logger.Named("worker")),
	)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "points service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)

	return nil
}

// Stop gracefully shuts down the service. Queued events are drained before
// the workers exit, so an orderly shutdown loses nothing that was appended.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping points service...")

	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.pool != nil {
		s.pool.Stop()
	}

	s.started = false
	s.logger.Info(context.Background(), "points service stopped")
}

func (s *Service) lockFor(playerID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(playerID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Ingest appends one event to the ledger and hands it to the derivation
// workers. The append is synchronous so callers observe idempotency; the
// balance update is asynchronous and usually lands within milliseconds.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	lock := s.lockFor(req.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := s.ledger.Append(ctx, model.Event{
		PlayerID:       req.PlayerID,
		Source:         req.Source,
		DimensionID:    req.DimensionID,
		MechanicID:     req.MechanicID,
		RawValue:       req.RawValue,
		OccurredAt:     req.OccurredAt,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEvent) {
			metrics.RecordEventDuplicate()
			s.logger.Debug(ctx, "duplicate event ignored",
				logger.Int64("eventID", stored.EventID),
				logger.String("playerID", req.PlayerID),
				logger.String("idempotencyKey", req.IdempotencyKey),
			)
			return IngestResult{Event: stored, Duplicate: true}, nil
		}
		return IngestResult{}, err
	}
	metrics.RecordEventIngested()

	if !s.queue.Enqueue(ctx, stored) {
		// Full shard. Applying inline here would jump the watermark past
		// events still queued for the same player, so those would later be
		// skipped as replays. Hold the stripe lock and wait for the shard's
		// worker to make room instead; same-player order is preserved.
		if qerr := s.queue.EnqueueBlocking(ctx, stored); qerr != nil {
			return IngestResult{Event: stored}, fmt.Errorf("enqueue event %d: %w", stored.EventID, qerr)
		}
	}
	return IngestResult{Event: stored, Duplicate: false}, nil
}

// Balance returns one stored balance.
func (s *Service) Balance(ctx context.Context, playerID, attributeID string) (model.Balance, error) {
	return s.balances.Get(ctx, playerID, attributeID)
}

// Balances returns every stored balance for a player, ordered by attribute.
func (s *Service) Balances(ctx context.Context, playerID string) []model.Balance {
	return s.balances.ListByPlayer(ctx, playerID)
}

// History returns a player's recorded events, newest first, optionally
// filtered by dimension. The limit is capped by the configured maximum.
func (s *Service) History(ctx context.Context, playerID, dimensionID string, limit int) ([]model.Event, error) {
	if limit <= 0 || limit > s.maxHistoryLimit {
		limit = s.maxHistoryLimit
	}

	var all []model.Event
	it := s.ledger.Scan(ctx, ledger.Filter{PlayerID: playerID, DimensionID: dimensionID})
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan history for %s: %w", playerID, err)
		}
		if !ok {
			break
		}
		all = append(all, e)
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	// Newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// Event returns one recorded event by id.
func (s *Service) Event(ctx context.Context, eventID int64) (model.Event, error) {
	return s.ledger.Get(ctx, eventID)
}

// Unmapped lists quarantined events in quarantine order.
func (s *Service) Unmapped(ctx context.Context) []model.UnmappedEvent {
	return s.engine.Unmapped(ctx)
}

// DefineAttribute appends a new attribute definition version.
func (s *Service) DefineAttribute(ctx context.Context, v catalog.AttributeVersion) (catalog.AttributeVersion, error) {
	return s.catalog.DefineAttribute(ctx, v)
}

// UpdateMapping appends a new dimension mapping version.
func (s *Service) UpdateMapping(ctx context.Context, v catalog.MappingVersion) (catalog.MappingVersion, error) {
	return s.catalog.UpdateMapping(ctx, v)
}

// Attributes returns the latest version of every attribute definition.
func (s *Service) Attributes(ctx context.Context) []catalog.AttributeVersion {
	return s.catalog.ListAttributes(ctx)
}

// Mappings returns the full mapping version history.
func (s *Service) Mappings(ctx context.Context) []catalog.MappingVersion {
	return s.catalog.ListMappings(ctx)
}

// ActiveMappings resolves the mappings effective for a (dimension, mechanic)
// at the given time.
func (s *Service) ActiveMappings(ctx context.Context, dimensionID, mechanicID string, at time.Time) ([]catalog.MappingVersion, error) {
	return s.catalog.ActiveMappings(ctx, dimensionID, mechanicID, at)
}

// RunCheck executes one consistency check over the given scope.
func (s *Service) RunCheck(ctx context.Context, scope model.Scope) (model.Report, error) {
	return s.checker.Run(ctx, scope)
}

// CheckState returns the checker's current run state.
func (s *Service) CheckState() check.State {
	return s.checker.State()
}

// Report returns one persisted consistency report by run id.
func (s *Service) Report(ctx context.Context, runID string) (model.Report, error) {
	return s.reports.Get(ctx, runID)
}

// Reports returns persisted consistency reports, newest first.
func (s *Service) Reports(ctx context.Context) []model.Report {
	return s.reports.List(ctx)
}

// Rebuild recomputes one balance from the ledger and persists it.
func (s *Service) Rebuild(ctx context.Context, playerID, attributeID string) (model.Balance, error) {
	return s.engine.Rebuild(ctx, playerID, attributeID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["totalEvents"] = s.ledger.Count(ctx)
		stats["totalBalances"] = s.balances.Count(ctx)
		stats["unmappedEvents"] = len(s.engine.Unmapped(ctx))
		stats["checkState"] = string(s.checker.State())

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateBalancesTracked(s.balances.Count(ctx))
		metrics.UpdateWorkerCount(s.workerCount)
	}

	return stats
}
