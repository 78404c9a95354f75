package fairness

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is a thread-safe in-memory Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	reports []*Report
	byID    map[string]*Report
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*Report)}
}

// Append implements Store.
func (s *InMemoryStore) Append(_ context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[r.ID]; ok {
		return ErrReportExists
	}
	prev := ""
	if n := len(s.reports); n > 0 {
		prev = s.reports[n-1].Hash
	}
	if err := seal(r, prev); err != nil {
		return fmt.Errorf("failed to seal fairness report: %w", err)
	}
	stored := r.Copy()
	s.reports = append(s.reports, stored)
	s.byID[r.ID] = stored
	return nil
}

// Latest implements Store.
func (s *InMemoryStore) Latest(_ context.Context) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.reports) == 0 {
		return nil, ErrReportNotFound
	}
	return s.reports[len(s.reports)-1].Copy(), nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return r.Copy(), nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context, limit int) ([]*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Report
	for i := len(s.reports) - 1; i >= 0; i-- {
		out = append(out, s.reports[i].Copy())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
