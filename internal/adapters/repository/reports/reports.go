// Package reports stores consistency reports by run id. Reports are
// written once by a completed check run and never mutated; they are
// retained for audit.
package reports

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lsg-lab/pointward/internal/domain/model"
)

// Store holds consistency reports in memory.
type Store struct {
	mu   sync.RWMutex
	byID map[string]model.Report
}

// New creates an empty report store.
func New() *Store {
	return &Store{byID: make(map[string]model.Report)}
}

// Put stores a completed report. Run ids are unique per run, so a repeated
// id is a caller bug and is rejected.
func (s *Store) Put(_ context.Context, r model.Report) error {
	if r.RunID == "" {
		return fmt.Errorf("%w: empty run id", ErrInvalidReport)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.RunID]; exists {
		return fmt.Errorf("%w: run %q", ErrAlreadyStored, r.RunID)
	}
	s.byID[r.RunID] = r
	return nil
}

// Get returns a report by run id.
func (s *Store) Get(_ context.Context, runID string) (model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[runID]
	if !ok {
		return model.Report{}, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	return r, nil
}

// List returns every stored report ordered by generation time, newest first.
func (s *Store) List(_ context.Context) []model.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Report, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	return out
}
