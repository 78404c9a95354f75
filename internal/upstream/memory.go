package upstream

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryContentSource serves descriptors from memory. Setting Fail makes
// every call return ErrUnavailable.
type InMemoryContentSource struct {
	mu          sync.RWMutex
	descriptors map[string]ContentDescriptor
	fail        bool
}

// NewInMemoryContentSource creates an empty content source.
func NewInMemoryContentSource() *InMemoryContentSource {
	return &InMemoryContentSource{descriptors: make(map[string]ContentDescriptor)}
}

// Put stores a descriptor.
func (s *InMemoryContentSource) Put(d ContentDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors[d.CreatorID] = d
}

// SetFailing toggles simulated unavailability.
func (s *InMemoryContentSource) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// GetContentDescriptor implements ContentSource.
func (s *InMemoryContentSource) GetContentDescriptor(_ context.Context, creatorID string) (*ContentDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail {
		return nil, fmt.Errorf("%w: content source offline", ErrUnavailable)
	}
	d, ok := s.descriptors[creatorID]
	if !ok {
		return nil, ErrNotFound
	}
	d.Hashtags = append([]string(nil), d.Hashtags...)
	return &d, nil
}

// RecordingIntake records opened cases in memory.
type RecordingIntake struct {
	mu    sync.Mutex
	cases []OpenedCase
}

// OpenedCase is one case recorded by RecordingIntake.
type OpenedCase struct {
	CaseID    string
	CreatorID string
	Evidence  Evidence
}

// NewRecordingIntake creates an empty intake.
func NewRecordingIntake() *RecordingIntake {
	return &RecordingIntake{}
}

// OpenModerationCase implements ModerationIntake.
func (r *RecordingIntake) OpenModerationCase(_ context.Context, creatorID string, evidence Evidence) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("case-%d", len(r.cases)+1)
	r.cases = append(r.cases, OpenedCase{CaseID: id, CreatorID: creatorID, Evidence: evidence})
	return id, nil
}

// Cases returns a copy of all opened cases.
func (r *RecordingIntake) Cases() []OpenedCase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OpenedCase(nil), r.cases...)
}

// InMemoryCatalog serves creator metadata from memory.
type InMemoryCatalog struct {
	mu       sync.RWMutex
	creators map[string]CreatorProfile
}

// NewInMemoryCatalog creates a catalog seeded with creators.
func NewInMemoryCatalog(creators ...CreatorProfile) *InMemoryCatalog {
	c := &InMemoryCatalog{creators: make(map[string]CreatorProfile)}
	for _, p := range creators {
		c.Put(p)
	}
	return c
}

// Put stores a creator.
func (c *InMemoryCatalog) Put(p CreatorProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creators[p.CreatorID] = copyProfile(p)
}

// GetCreator implements Catalog.
func (c *InMemoryCatalog) GetCreator(_ context.Context, creatorID string) (*CreatorProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.creators[creatorID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyProfile(p)
	return &out, nil
}

// ListCreators implements Catalog. Results are sorted by creator id.
func (c *InMemoryCatalog) ListCreators(_ context.Context) ([]CreatorProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CreatorProfile, 0, len(c.creators))
	for _, p := range c.creators {
		out = append(out, copyProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatorID < out[j].CreatorID })
	return out, nil
}

func copyProfile(p CreatorProfile) CreatorProfile {
	cats := make(map[string]float64, len(p.Categories))
	for k, v := range p.Categories {
		cats[k] = v
	}
	p.Categories = cats
	return p
}
