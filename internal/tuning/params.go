// Package tuning holds the corrective ranking parameters written by the
// fairness auditor and read by the density controller and the feed.
package tuning

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Defaults.
const (
	DefaultGuaranteedSlots  = 3
	DefaultDensityThreshold = int64(2_000_000)
)

// ErrInvalidParams is returned when params fail validation.
var ErrInvalidParams = errors.New("invalid tuning params")

// Params is the corrective-parameters record. It is the only state the
// fairness auditor writes.
type Params struct {
	GuaranteedSlots  int       `json:"guaranteed_slots"`
	DensityThreshold int64     `json:"density_threshold"`
	Version          int64     `json:"version"`
	Reason           string    `json:"reason,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks the params are usable.
func (p Params) Validate() error {
	if p.GuaranteedSlots < 0 || p.DensityThreshold <= 0 {
		return ErrInvalidParams
	}
	return nil
}

// Defaults returns the base parameters.
func Defaults() Params {
	return Params{
		GuaranteedSlots:  DefaultGuaranteedSlots,
		DensityThreshold: DefaultDensityThreshold,
	}
}

// Store persists the current Params.
type Store interface {
	// Current returns the params in effect.
	Current(ctx context.Context) (Params, error)
	// Put replaces the params, assigning the next version.
	Put(ctx context.Context, p Params) (Params, error)
}

// MemoryStore keeps params behind an atomic pointer so readers never block.
type MemoryStore struct {
	current atomic.Pointer[Params]
}

// NewMemoryStore creates a store holding initial.
func NewMemoryStore(initial Params) *MemoryStore {
	s := &MemoryStore{}
	s.current.Store(&initial)
	return s
}

// Current implements Store.
func (s *MemoryStore) Current(_ context.Context) (Params, error) {
	return *s.current.Load(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, p Params) (Params, error) {
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	for {
		old := s.current.Load()
		next := p
		next.Version = old.Version + 1
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = time.Now().UTC()
		}
		if s.current.CompareAndSwap(old, &next) {
			return next, nil
		}
	}
}
