// Package interest maintains per-viewer interest profiles: category
// affinities, the active discovery mode, and locale.
package interest

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProfileNotFound is returned when a viewer has no profile.
	ErrProfileNotFound = errors.New("interest profile not found")
	// ErrEmptyViewer is returned when a viewer id is empty.
	ErrEmptyViewer = errors.New("viewer id cannot be empty")
)

// Profile is a viewer's interest profile. Affinities are not normalized;
// consumers read them relative to the maximum.
type Profile struct {
	ViewerID   string             `json:"viewer_id"`
	Affinities map[string]float64 `json:"affinities"`
	Mode       string             `json:"mode"`
	Language   string             `json:"language,omitempty"`
	Region     string             `json:"region,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Copy returns a deep copy of p.
func (p *Profile) Copy() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Affinities = make(map[string]float64, len(p.Affinities))
	for k, v := range p.Affinities {
		out.Affinities[k] = v
	}
	return &out
}

// Store persists interest profiles. Profiles are created by the first
// write for a viewer and removed only by Erase.
type Store interface {
	// Get returns a copy of the viewer's profile or ErrProfileNotFound.
	Get(ctx context.Context, viewerID string) (*Profile, error)
	// AddAffinity adds weight to a category affinity.
	AddAffinity(ctx context.Context, viewerID, category string, weight float64, at time.Time) error
	// SetMode stores the viewer's active discovery mode.
	SetMode(ctx context.Context, viewerID, mode string, at time.Time) error
	// SetLocale stores the viewer's language and region. Empty values are ignored.
	SetLocale(ctx context.Context, viewerID, language, region string, at time.Time) error
	// Erase deletes the profile on account erasure.
	Erase(ctx context.Context, viewerID string) error
}
