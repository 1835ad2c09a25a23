// Package check implements the consistency checker: an independent
// recomputation of balances from the ledger, diffed against stored state.
//
// The checker never writes balances. Reconciliation is read-only; any
// correction is a deliberate administrative action taken elsewhere.
package check

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lsg-lab/pointward/internal/adapters/repository/balances"
	"github.com/lsg-lab/pointward/internal/adapters/repository/ledger"
	"github.com/lsg-lab/pointward/internal/adapters/repository/reports"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/engine/derive"
	"github.com/lsg-lab/pointward/pkg/logger"
	"github.com/lsg-lab/pointward/pkg/metrics"
)

// State is the checker's run state.
type State string

// Checker states. A run moves Idle -> Running -> {Completed, Failed};
// cancellation reverts to Idle with nothing persisted.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Checker runs consistency checks one at a time.
type Checker struct {
	engine   *derive.Engine
	ledger   ledger.Store
	balances *balances.Store
	reports  *reports.Store
	clock    func() time.Time
	log      logger.Logger

	// maxMismatches caps the mismatches tolerated in a run; 0 = unlimited.
	// Exceeding the cap fails the run rather than shortening the report.
	maxMismatches int

	mu    sync.Mutex
	state State
}

// New creates a checker.
func New(e *derive.Engine, l ledger.Store, b *balances.Store, r *reports.Store, opts ...Option) *Checker {
	c := &Checker{
		engine:   e,
		ledger:   l,
		balances: b,
		reports:  r,
		clock:    time.Now,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current checker state.
func (c *Checker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Checker) transition(to State) {
	c.mu.Lock()
	c.state = to
	c.mu.Unlock()
}

// Run executes one consistency check over the given scope. It recomputes
// every (player, attribute) pair in scope against the ledger snapshot taken
// at start (as_of_event_id) and diffs the result against stored balances
// with exact decimal equality. The caller gets either a complete, persisted
// report or an explicit error, never a silently truncated one.
func (c *Checker) Run(ctx context.Context, scope model.Scope) (model.Report, error) {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return model.Report{}, ErrCheckRunning
	}
	c.state = StateRunning
	c.mu.Unlock()

	start := c.clock()
	report, err := c.run(ctx, scope)
	elapsed := c.clock().Sub(start)

	switch {
	case err == nil:
		c.transition(StateCompleted)
		metrics.RecordCheckRun("completed")
		metrics.UpdateCheckMismatches(len(report.Mismatches))
		metrics.RecordCheckDuration(float64(elapsed.Microseconds()) / 1000.0)
		if c.log != nil {
			c.log.Info(ctx, "consistency check completed",
				logger.String("runID", report.RunID),
				logger.Int("pairs", report.Pairs),
				logger.Int("mismatches", len(report.Mismatches)),
				logger.Int64("asOfEventID", report.AsOfEventID),
			)
		}
		return report, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Cancellation is not a failure: revert to Idle, persist nothing.
		c.transition(StateIdle)
		metrics.RecordCheckRun("cancelled")
		return model.Report{}, err
	default:
		c.transition(StateFailed)
		metrics.RecordCheckRun("failed")
		if c.log != nil {
			c.log.Error(ctx, "consistency check failed", logger.Error(err))
		}
		return model.Report{}, err
	}
}

func (c *Checker) run(ctx context.Context, scope model.Scope) (model.Report, error) {
	asOf := c.ledger.LastEventID(ctx)

	pairs, err := c.collectPairs(ctx, scope, asOf)
	if err != nil {
		return model.Report{}, fmt.Errorf("collect pairs: %w", err)
	}

	var mismatches []model.Mismatch
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return model.Report{}, err
		}

		recomputed, err := c.engine.RecomputeAsOf(ctx, p.PlayerID, p.AttributeID, asOf)
		if err != nil {
			return model.Report{}, fmt.Errorf("recompute %s/%s: %w", p.PlayerID, p.AttributeID, err)
		}

		stored, err := c.balances.Get(ctx, p.PlayerID, p.AttributeID)
		if err != nil {
			if !errors.Is(err, balances.ErrNotFound) {
				return model.Report{}, fmt.Errorf("read balance %s/%s: %w", p.PlayerID, p.AttributeID, err)
			}
			// Missing row checks as zero: drift if anything was derivable.
			stored = model.Balance{PlayerID: p.PlayerID, AttributeID: p.AttributeID}
		}

		if stored.Total.Equal(recomputed.Total) {
			continue
		}
		if c.maxMismatches > 0 && len(mismatches) >= c.maxMismatches {
			return model.Report{}, fmt.Errorf("%w: more than %d in scope", ErrTooManyMismatches, c.maxMismatches)
		}
		delta, err := stored.Total.Sub(recomputed.Total)
		if err != nil {
			return model.Report{}, fmt.Errorf("delta %s/%s: %w", p.PlayerID, p.AttributeID, err)
		}
		mismatches = append(mismatches, model.Mismatch{
			PlayerID:    p.PlayerID,
			AttributeID: p.AttributeID,
			Stored:      stored.Total,
			Recomputed:  recomputed.Total,
			Delta:       delta,
		})
	}

	report := model.Report{
		RunID:       uuid.NewString(),
		GeneratedAt: c.clock().UTC(),
		Scope:       scope,
		AsOfEventID: asOf,
		Pairs:       len(pairs),
		Mismatches:  mismatches,
	}
	if err := c.reports.Put(ctx, report); err != nil {
		return model.Report{}, fmt.Errorf("persist report: %w", err)
	}
	return report, nil
}

// collectPairs unions the pairs derivable from the ledger with the pairs
// already materialized in the balance store, so both a missing row and a
// row with no ledger backing surface in the diff. The result is ordered by
// (player_id, attribute_id) for deterministic, diffable reports.
func (c *Checker) collectPairs(ctx context.Context, scope model.Scope, asOf int64) ([]derive.Pair, error) {
	pairs, err := c.engine.Pairs(ctx, scope, asOf)
	if err != nil {
		return nil, err
	}

	seen := make(map[derive.Pair]struct{}, len(pairs))
	for _, p := range pairs {
		seen[p] = struct{}{}
	}
	for _, b := range c.balances.Snapshot(ctx) {
		if !scope.Contains(b.PlayerID) {
			continue
		}
		p := derive.Pair{PlayerID: b.PlayerID, AttributeID: b.AttributeID}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}

	// Re-sort: snapshot-only pairs were appended out of order.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].PlayerID != pairs[j].PlayerID {
			return pairs[i].PlayerID < pairs[j].PlayerID
		}
		return pairs[i].AttributeID < pairs[j].AttributeID
	})
	return pairs, nil
}
