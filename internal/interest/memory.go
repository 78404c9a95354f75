package interest

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a thread-safe in-memory Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewInMemoryStore creates an empty in-memory profile store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]*Profile)}
}

// Get returns a copy of the viewer's profile.
func (s *InMemoryStore) Get(_ context.Context, viewerID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[viewerID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Copy(), nil
}

func (s *InMemoryStore) getOrCreateLocked(viewerID string) *Profile {
	p, ok := s.profiles[viewerID]
	if !ok {
		p = &Profile{ViewerID: viewerID, Affinities: make(map[string]float64)}
		s.profiles[viewerID] = p
	}
	return p
}

// AddAffinity adds weight to a category affinity, creating the profile if needed.
func (s *InMemoryStore) AddAffinity(_ context.Context, viewerID, category string, weight float64, at time.Time) error {
	if viewerID == "" {
		return ErrEmptyViewer
	}
	if category == "" || weight <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreateLocked(viewerID)
	p.Affinities[category] += weight
	p.UpdatedAt = at
	return nil
}

// SetMode stores the viewer's active mode.
func (s *InMemoryStore) SetMode(_ context.Context, viewerID, mode string, at time.Time) error {
	if viewerID == "" {
		return ErrEmptyViewer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreateLocked(viewerID)
	p.Mode = mode
	p.UpdatedAt = at
	return nil
}

// SetLocale stores the viewer's language and region.
func (s *InMemoryStore) SetLocale(_ context.Context, viewerID, language, region string, at time.Time) error {
	if viewerID == "" {
		return ErrEmptyViewer
	}
	if language == "" && region == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreateLocked(viewerID)
	if language != "" {
		p.Language = language
	}
	if region != "" {
		p.Region = region
	}
	p.UpdatedAt = at
	return nil
}

// Erase deletes the viewer's profile. Erasing a missing profile is not an error.
func (s *InMemoryStore) Erase(_ context.Context, viewerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, viewerID)
	return nil
}
