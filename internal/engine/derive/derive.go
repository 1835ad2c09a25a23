// Package derive implements the derivation engine: it folds ledger events
// into per-player, per-attribute balances and rebuilds balances from
// scratch for backfill and consistency checking.
package derive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lsg-lab/pointward/internal/adapters/repository/balances"
	"github.com/lsg-lab/pointward/internal/adapters/repository/ledger"
	"github.com/lsg-lab/pointward/internal/domain/catalog"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/domain/points"
	"github.com/lsg-lab/pointward/pkg/logger"
	"github.com/lsg-lab/pointward/pkg/metrics"
)

// Outcome classifies the result of applying one event.
type Outcome string

// Apply outcomes.
const (
	// OutcomeApplied: at least one balance advanced.
	OutcomeApplied Outcome = "applied"
	// OutcomeReplayed: every target balance had already folded the event.
	OutcomeReplayed Outcome = "replayed"
	// OutcomeUnmapped: no catalog mapping was effective at occurred_at;
	// the event was quarantined and no balance changed.
	OutcomeUnmapped Outcome = "unmapped"
)

// Pair identifies one derivable (player, attribute) balance.
type Pair struct {
	PlayerID    string
	AttributeID string
}

// Engine derives balances from the ledger and catalog. It is the sole
// writer of the balance store.
type Engine struct {
	ledger   ledger.Store
	balances *balances.Store
	catalog  *catalog.Catalog
	clock    func() time.Time
	log      logger.Logger

	qmu         sync.RWMutex
	quarantine  []model.UnmappedEvent
	quarantined map[int64]struct{} // event ids already quarantined
}

// New creates a derivation engine.
func New(l ledger.Store, b *balances.Store, c *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		ledger:      l,
		balances:    b,
		catalog:     c,
		clock:       time.Now,
		quarantined: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply folds one recorded event into every balance its mappings target.
// The mapping versions are resolved at the event's occurred_at, not at
// ingestion time, so late and out-of-order arrivals derive identically to
// a full recompute.
func (e *Engine) Apply(ctx context.Context, ev model.Event) (Outcome, error) {
	start := e.clock()
	defer func() {
		metrics.RecordDerivationLatency(float64(e.clock().Sub(start).Microseconds()) / 1000.0)
	}()

	mappings, err := e.catalog.ActiveMappings(ctx, ev.DimensionID, ev.MechanicID, ev.OccurredAt)
	if err != nil {
		if errors.Is(err, catalog.ErrNoMappingDefined) {
			e.recordUnmapped(ctx, ev, err.Error())
			return OutcomeUnmapped, nil
		}
		return "", fmt.Errorf("resolve mappings for event %d: %w", ev.EventID, err)
	}

	applied := false
	for _, m := range mappings {
		agg, err := e.catalog.Aggregator(ctx, m.AttributeID, ev.OccurredAt)
		if err != nil {
			// Mapping exists but the attribute definition is not yet
			// effective at occurred_at; quarantine rather than guess.
			e.recordUnmapped(ctx, ev, err.Error())
			continue
		}
		contribution, err := agg.Contribution(ev.RawValue, m.Weight)
		if err != nil {
			return "", fmt.Errorf("contribution for event %d attribute %q: %w", ev.EventID, m.AttributeID, err)
		}
		updated, err := e.balances.Advance(ctx, ev.PlayerID, m.AttributeID, ev.EventID, func(total points.Amount) (points.Amount, error) {
			return agg.Fold(total, contribution)
		})
		if err != nil {
			return "", fmt.Errorf("advance balance %s/%s: %w", ev.PlayerID, m.AttributeID, err)
		}
		if updated {
			applied = true
			metrics.RecordBalanceUpdate()
		}
	}

	if !applied {
		return OutcomeReplayed, nil
	}
	return OutcomeApplied, nil
}

// Recompute rebuilds one balance from the full ledger without writing it.
// It is the reference computation used by consistency checks.
func (e *Engine) Recompute(ctx context.Context, playerID, attributeID string) (model.Balance, error) {
	return e.RecomputeFrom(ctx, playerID, attributeID, 0, points.Zero())
}

// RecomputeAsOf rebuilds one balance considering only events up to and
// including the asOf event id. Consistency checks use it to pin every
// recompute in a run to the same ledger snapshot.
func (e *Engine) RecomputeAsOf(ctx context.Context, playerID, attributeID string, asOf int64) (model.Balance, error) {
	return e.recompute(ctx, playerID, attributeID, 0, asOf, points.Zero())
}

// RecomputeFrom resumes a rebuild from an exclusive since event id and a
// seed total, so long recomputes can survive cancellation without
// restarting from scratch.
func (e *Engine) RecomputeFrom(ctx context.Context, playerID, attributeID string, since int64, seed points.Amount) (model.Balance, error) {
	return e.recompute(ctx, playerID, attributeID, since, 0, seed)
}

func (e *Engine) recompute(ctx context.Context, playerID, attributeID string, since, until int64, seed points.Amount) (model.Balance, error) {
	total := seed
	last := since

	it := e.ledger.Scan(ctx, ledger.Filter{PlayerID: playerID, SinceEventID: since, UntilEventID: until})
	for {
		ev, ok, err := it.Next(ctx)
		if err != nil {
			return model.Balance{}, fmt.Errorf("scan ledger for %s/%s: %w", playerID, attributeID, err)
		}
		if !ok {
			break
		}

		m, agg, ok, err := e.resolveFor(ctx, ev, attributeID)
		if err != nil {
			return model.Balance{}, err
		}
		if !ok {
			continue
		}

		contribution, err := agg.Contribution(ev.RawValue, m.Weight)
		if err != nil {
			return model.Balance{}, fmt.Errorf("contribution for event %d: %w", ev.EventID, err)
		}
		total, err = agg.Fold(total, contribution)
		if err != nil {
			return model.Balance{}, fmt.Errorf("fold event %d: %w", ev.EventID, err)
		}
		last = ev.EventID
	}

	return model.Balance{
		PlayerID:         playerID,
		AttributeID:      attributeID,
		Total:            total,
		LastEventID:      last,
		LastRecomputedAt: e.clock().UTC(),
	}, nil
}

// resolveFor returns the mapping and aggregator an event contributes
// through for one attribute, mirroring Apply's skip conditions exactly.
func (e *Engine) resolveFor(ctx context.Context, ev model.Event, attributeID string) (catalog.MappingVersion, points.Aggregator, bool, error) {
	mappings, err := e.catalog.ActiveMappings(ctx, ev.DimensionID, ev.MechanicID, ev.OccurredAt)
	if err != nil {
		if errors.Is(err, catalog.ErrNoMappingDefined) {
			return catalog.MappingVersion{}, nil, false, nil
		}
		return catalog.MappingVersion{}, nil, false, fmt.Errorf("resolve mappings for event %d: %w", ev.EventID, err)
	}
	for _, m := range mappings {
		if m.AttributeID != attributeID {
			continue
		}
		agg, err := e.catalog.Aggregator(ctx, m.AttributeID, ev.OccurredAt)
		if err != nil {
			// Attribute definition not effective at occurred_at; the
			// incremental path quarantined this event, so skip it here too.
			return catalog.MappingVersion{}, nil, false, nil
		}
		return m, agg, true, nil
	}
	return catalog.MappingVersion{}, nil, false, nil
}

// Rebuild recomputes one balance and persists it. Used for backfill and
// catalog migration. A concurrent incremental apply that advanced the row
// past the recompute surfaces as ErrConflict from the balance store;
// callers retry.
func (e *Engine) Rebuild(ctx context.Context, playerID, attributeID string) (model.Balance, error) {
	b, err := e.Recompute(ctx, playerID, attributeID)
	if err != nil {
		return model.Balance{}, err
	}
	if err := e.balances.Replace(ctx, b); err != nil {
		return model.Balance{}, err
	}
	return b, nil
}

// Pairs enumerates every (player, attribute) balance derivable from the
// ledger for the given scope, ordered by (player_id, attribute_id). An
// asOf bound (0 = none) pins the enumeration to a ledger snapshot.
func (e *Engine) Pairs(ctx context.Context, scope model.Scope, asOf int64) ([]Pair, error) {
	seen := make(map[Pair]struct{})

	it := e.ledger.Scan(ctx, ledger.Filter{UntilEventID: asOf})
	for {
		ev, ok, err := it.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan ledger for pairs: %w", err)
		}
		if !ok {
			break
		}
		if !scope.Contains(ev.PlayerID) {
			continue
		}
		mappings, err := e.catalog.ActiveMappings(ctx, ev.DimensionID, ev.MechanicID, ev.OccurredAt)
		if err != nil {
			continue // unmapped events derive nothing
		}
		for _, m := range mappings {
			seen[Pair{PlayerID: ev.PlayerID, AttributeID: m.AttributeID}] = struct{}{}
		}
	}

	out := make([]Pair, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayerID != out[j].PlayerID {
			return out[i].PlayerID < out[j].PlayerID
		}
		return out[i].AttributeID < out[j].AttributeID
	})
	return out, nil
}

func (e *Engine) recordUnmapped(ctx context.Context, ev model.Event, reason string) {
	e.qmu.Lock()
	defer e.qmu.Unlock()

	if _, already := e.quarantined[ev.EventID]; already {
		return
	}
	e.quarantined[ev.EventID] = struct{}{}
	e.quarantine = append(e.quarantine, model.UnmappedEvent{
		Event:      ev,
		Reason:     reason,
		RecordedAt: e.clock().UTC(),
	})
	metrics.RecordEventUnmapped()
	if e.log != nil {
		e.log.Warn(ctx, "event quarantined as unmapped",
			logger.Int64("eventID", ev.EventID),
			logger.String("playerID", ev.PlayerID),
			logger.String("dimensionID", ev.DimensionID),
			logger.String("mechanicID", ev.MechanicID),
		)
	}
}

// Quarantine records an event whose application failed, with the failure as
// the reason. The async workers route apply errors here so a failing
// contribution stays visible in the unmapped listing instead of vanishing;
// the balance is untouched and a later rebuild can pick the event up.
func (e *Engine) Quarantine(ctx context.Context, ev model.Event, reason string) {
	e.recordUnmapped(ctx, ev, reason)
}

// Unmapped lists quarantined events in quarantine order.
func (e *Engine) Unmapped(_ context.Context) []model.UnmappedEvent {
	e.qmu.RLock()
	defer e.qmu.RUnlock()

	out := make([]model.UnmappedEvent, len(e.quarantine))
	copy(out, e.quarantine)
	return out
}
