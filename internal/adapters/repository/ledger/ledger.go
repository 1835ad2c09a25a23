// Package ledger implements the append-only event store.
//
// Events are immutable once recorded; corrections are expressed as new
// compensating events with a negative raw value. Event ids are assigned in
// strictly increasing order, which makes the id both the scan order and the
// watermark unit used by the derivation engine.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lsg-lab/pointward/internal/domain/model"
)

// Filter narrows a Scan. Zero values match everything; SinceEventID is
// exclusive, so a scan restarted with the last seen id never repeats it.
// UntilEventID is an inclusive upper bound (0 = unbounded) used to pin a
// scan to a snapshot of the log.
type Filter struct {
	PlayerID     string
	DimensionID  string
	SinceEventID int64
	UntilEventID int64
}

// Store is the event store contract. A transactional engine can satisfy it;
// the in-memory implementation below is the default.
type Store interface {
	// Append records a new event and returns it with its assigned id.
	// A repeated (player_id, source, idempotency_key) resolves
	// first-writer-wins: losers get the stored event plus ErrDuplicateEvent.
	Append(ctx context.Context, e model.Event) (model.Event, error)

	// Scan returns a lazy iterator over matching events ordered by
	// ascending event id, restartable from any since_event_id.
	Scan(ctx context.Context, f Filter) *Iterator

	// Get returns a single event by id.
	Get(ctx context.Context, eventID int64) (model.Event, error)

	// LastEventID returns the highest assigned event id, 0 when empty.
	LastEventID(ctx context.Context) int64
}

type idemKey struct {
	playerID string
	source   model.Source
	key      string
}

// MemoryStore implements Store with an in-memory append-only log plus an
// idempotency index.
type MemoryStore struct {
	mu     sync.RWMutex
	events []model.Event // events[i].EventID == int64(i)+1
	byIdem map[idemKey]int64
	clock  func() time.Time
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byIdem: make(map[idemKey]int64),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records a new event. See Store.Append for idempotency semantics.
func (s *MemoryStore) Append(_ context.Context, e model.Event) (model.Event, error) {
	if err := validate(e); err != nil {
		return model.Event{}, err
	}

	key := idemKey{playerID: e.PlayerID, source: e.Source, key: e.IdempotencyKey}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, seen := s.byIdem[key]; seen {
		existing := s.events[existingID-1]
		return existing, fmt.Errorf("%w: event %d", ErrDuplicateEvent, existingID)
	}

	e.EventID = int64(len(s.events)) + 1
	e.RecordedAt = s.clock().UTC()
	s.events = append(s.events, e)
	s.byIdem[key] = e.EventID
	return e, nil
}

func validate(e model.Event) error {
	switch {
	case e.PlayerID == "":
		return fmt.Errorf("%w: missing player_id", ErrInvalidEvent)
	case !e.Source.Valid():
		return fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, e.Source)
	case e.DimensionID == "":
		return fmt.Errorf("%w: missing dimension_id", ErrInvalidEvent)
	case e.IdempotencyKey == "":
		return fmt.Errorf("%w: missing idempotency_key", ErrInvalidEvent)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	case e.EventID != 0:
		return fmt.Errorf("%w: event_id is assigned by the store", ErrInvalidEvent)
	}
	return nil
}

// Scan returns a lazy iterator over events matching f.
func (s *MemoryStore) Scan(_ context.Context, f Filter) *Iterator {
	return &Iterator{store: s, filter: f, cursor: f.SinceEventID}
}

// Get returns the event with the given id.
func (s *MemoryStore) Get(_ context.Context, eventID int64) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if eventID < 1 || eventID > int64(len(s.events)) {
		return model.Event{}, fmt.Errorf("%w: event %d", ErrNotFound, eventID)
	}
	return s.events[eventID-1], nil
}

// LastEventID returns the highest assigned event id.
func (s *MemoryStore) LastEventID(_ context.Context) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events))
}

// Count returns the number of recorded events.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Iterator walks the ledger in ascending event id order. It holds no lock
// between Next calls: the log is append-only, so a position is always valid
// and a concurrent append simply extends the walk.
type Iterator struct {
	store  *MemoryStore
	filter Filter
	cursor int64 // last event id handed out (or the starting since id)
}

// Next returns the next matching event. The boolean is false when the scan
// is exhausted.
func (it *Iterator) Next(ctx context.Context) (model.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, false, err
	}

	it.store.mu.RLock()
	defer it.store.mu.RUnlock()

	for id := it.cursor + 1; id <= int64(len(it.store.events)); id++ {
		if it.filter.UntilEventID > 0 && id > it.filter.UntilEventID {
			return model.Event{}, false, nil
		}
		e := it.store.events[id-1]
		it.cursor = id
		if it.filter.PlayerID != "" && e.PlayerID != it.filter.PlayerID {
			continue
		}
		if it.filter.DimensionID != "" && e.DimensionID != it.filter.DimensionID {
			continue
		}
		return e, true, nil
	}
	it.cursor = int64(len(it.store.events))
	return model.Event{}, false, nil
}

// Cursor returns the last event id the iterator has considered, usable as
// SinceEventID to resume the scan.
func (it *Iterator) Cursor() int64 { return it.cursor }
