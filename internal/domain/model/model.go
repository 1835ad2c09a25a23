// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/lsg-lab/pointward/internal/domain/points"
)

// Source identifies where an event originated.
type Source string

// Known event sources.
const (
	SourceSensor         Source = "sensor"
	SourceGameRedemption Source = "game_session_redemption"
)

// Valid reports whether the source is one this service ingests.
func (s Source) Valid() bool {
	return s == SourceSensor || s == SourceGameRedemption
}

// Event is an immutable ledger record of a player-relevant occurrence.
// EventID is assigned by the ledger in strictly increasing order; RecordedAt
// is the ingestion time, OccurredAt the domain time used for catalog lookups.
type Event struct {
	EventID        int64         `json:"event_id"`
	PlayerID       string        `json:"player_id"`
	Source         Source        `json:"source"`
	DimensionID    string        `json:"dimension_id"`
	MechanicID     string        `json:"mechanic_id,omitempty"`
	RawValue       points.Amount `json:"raw_value"`
	OccurredAt     time.Time     `json:"occurred_at"`
	RecordedAt     time.Time     `json:"recorded_at"`
	IdempotencyKey string        `json:"idempotency_key"`
}

// Balance is the materialized point total for one (player, attribute) pair.
// LastEventID is the watermark: the highest event id folded into Total.
type Balance struct {
	PlayerID         string        `json:"player_id"`
	AttributeID      string        `json:"attribute_id"`
	Total            points.Amount `json:"total_points"`
	LastEventID      int64         `json:"last_event_id_applied"`
	LastRecomputedAt time.Time     `json:"last_recomputed_at"`
}

// UnmappedEvent records an event quarantined because no catalog mapping was
// effective at its occurred_at. Quarantined events are listed, never applied.
type UnmappedEvent struct {
	Event      Event     `json:"event"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Mismatch is one divergence surfaced by a consistency check.
type Mismatch struct {
	PlayerID    string        `json:"player_id"`
	AttributeID string        `json:"attribute_id"`
	Stored      points.Amount `json:"stored_total"`
	Recomputed  points.Amount `json:"recomputed_total"`
	Delta       points.Amount `json:"delta"`
}

// Scope selects the players covered by a consistency check.
// An empty PlayerIDs slice means all players.
type Scope struct {
	PlayerIDs []string `json:"player_ids,omitempty"`
}

// All reports whether the scope covers every player.
func (s Scope) All() bool { return len(s.PlayerIDs) == 0 }

// Contains reports whether the scope covers the given player.
func (s Scope) Contains(playerID string) bool {
	if s.All() {
		return true
	}
	for _, id := range s.PlayerIDs {
		if id == playerID {
			return true
		}
	}
	return false
}

// Report is the immutable outcome of one consistency check run.
// AsOfEventID is the snapshot boundary: the highest ledger event id that
// existed when the run started, so transient mismatches from in-flight
// derivation can be told apart from real drift.
type Report struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Scope       Scope      `json:"scope"`
	AsOfEventID int64      `json:"as_of_event_id"`
	Pairs       int        `json:"pairs_checked"`
	Mismatches  []Mismatch `json:"mismatches"`
}
