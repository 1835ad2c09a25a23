// Package balances implements the materialized per-player, per-attribute
// point balance store.
//
// A balance row is a cache of ledger history with an explicit watermark
// (last_event_id_applied). The derivation engine is the only writer; all
// mutations go through Advance or Replace, both serialized under one lock
// so concurrent applies can never lose an update.
package balances

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/domain/points"
)

type key struct {
	playerID    string
	attributeID string
}

// Store holds balance rows in memory.
type Store struct {
	mu    sync.RWMutex
	rows  map[key]model.Balance
	clock func() time.Time
}

// New creates an empty balance store.
func New(opts ...Option) *Store {
	s := &Store{
		rows:  make(map[key]model.Balance),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the balance for one (player, attribute) pair.
func (s *Store) Get(_ context.Context, playerID, attributeID string) (model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.rows[key{playerID: playerID, attributeID: attributeID}]
	if !ok {
		return model.Balance{}, fmt.Errorf("%w: player %q attribute %q", ErrNotFound, playerID, attributeID)
	}
	return b, nil
}

// ListByPlayer returns every balance row for a player, ordered by attribute.
func (s *Store) ListByPlayer(_ context.Context, playerID string) []model.Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Balance
	for k, b := range s.rows {
		if k.playerID == playerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttributeID < out[j].AttributeID })
	return out
}

// Snapshot returns every balance row ordered by (player_id, attribute_id).
func (s *Store) Snapshot(_ context.Context) []model.Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Balance, 0, len(s.rows))
	for _, b := range s.rows {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayerID != out[j].PlayerID {
			return out[i].PlayerID < out[j].PlayerID
		}
		return out[i].AttributeID < out[j].AttributeID
	})
	return out
}

// Count returns the number of balance rows.
func (s *Store) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Advance folds one event's contribution into a balance, creating the row
// on first touch. The fold runs only when eventID is strictly greater than
// the stored watermark; a replayed event returns (false, nil) untouched.
// The read-fold-write runs under the store lock, so concurrent Advance
// calls on the same pair are serialized.
func (s *Store) Advance(_ context.Context, playerID, attributeID string, eventID int64, fold func(total points.Amount) (points.Amount, error)) (bool, error) {
	if eventID <= 0 {
		return false, fmt.Errorf("%w: event id %d", ErrInvalidWatermark, eventID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{playerID: playerID, attributeID: attributeID}
	row, ok := s.rows[k]
	if !ok {
		row = model.Balance{PlayerID: playerID, AttributeID: attributeID, Total: points.Zero()}
	}
	if eventID <= row.LastEventID {
		return false, nil // replay; already folded
	}

	total, err := fold(row.Total)
	if err != nil {
		return false, fmt.Errorf("fold balance %s/%s: %w", playerID, attributeID, err)
	}
	row.Total = total
	row.LastEventID = eventID
	s.rows[k] = row
	return true, nil
}

// Replace overwrites a row with a recomputed balance. To keep a slow
// recompute from clobbering fresher incremental state, the replacement is
// rejected with ErrConflict when the stored watermark is ahead of the
// recomputed one; callers retry after recomputing again.
func (s *Store) Replace(_ context.Context, b model.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{playerID: b.PlayerID, attributeID: b.AttributeID}
	if cur, ok := s.rows[k]; ok && cur.LastEventID > b.LastEventID {
		return fmt.Errorf("%w: stored watermark %d ahead of recomputed %d",
			ErrConflict, cur.LastEventID, b.LastEventID)
	}
	if b.LastRecomputedAt.IsZero() {
		b.LastRecomputedAt = s.clock().UTC()
	}
	s.rows[k] = b
	return nil
}
