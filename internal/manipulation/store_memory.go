package manipulation

import (
	"context"
	"sort"
	"sync"
)

// InMemoryFlagStore is a thread-safe in-memory FlagStore.
type InMemoryFlagStore struct {
	mu    sync.RWMutex
	flags map[string]*Flag
}

// NewInMemoryFlagStore creates an empty store.
func NewInMemoryFlagStore() *InMemoryFlagStore {
	return &InMemoryFlagStore{flags: make(map[string]*Flag)}
}

// Create stores a new flag.
func (s *InMemoryFlagStore) Create(_ context.Context, f *Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[f.ID] = f.Copy()
	return nil
}

// Update replaces an existing flag.
func (s *InMemoryFlagStore) Update(_ context.Context, f *Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[f.ID]; !ok {
		return ErrFlagNotFound
	}
	s.flags[f.ID] = f.Copy()
	return nil
}

// Delete removes a flag.
func (s *InMemoryFlagStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[id]; !ok {
		return ErrFlagNotFound
	}
	delete(s.flags, id)
	return nil
}

// Get returns a copy of a flag.
func (s *InMemoryFlagStore) Get(_ context.Context, id string) (*Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return f.Copy(), nil
}

// ListByCreator returns a creator's flags, newest first.
func (s *InMemoryFlagStore) ListByCreator(ctx context.Context, creatorID string) ([]*Flag, error) {
	return s.List(ctx, ListFilter{CreatorID: creatorID})
}

// List returns flags matching filter, newest first.
func (s *InMemoryFlagStore) List(_ context.Context, filter ListFilter) ([]*Flag, error) {
	s.mu.RLock()
	var out []*Flag
	for _, f := range s.flags {
		if filter.CreatorID != "" && f.CreatorID != filter.CreatorID {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		out = append(out, f.Copy())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
