package manipulation

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a manipulation flag.
type Status string

// Flag statuses.
const (
	StatusNew         Status = "NEW"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusConfirmed   Status = "CONFIRMED"
	StatusDismissed   Status = "DISMISSED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusUnderReview, StatusConfirmed, StatusDismissed:
		return true
	}
	return false
}

// Final reports whether automation may no longer change a flag in status s.
func (s Status) Final() bool {
	return s == StatusConfirmed || s == StatusDismissed
}

var (
	// ErrFlagNotFound is returned when a flag does not exist.
	ErrFlagNotFound = errors.New("manipulation flag not found")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid flag status transition")
	// ErrEmptyReviewer is returned when a review action has no reviewer.
	ErrEmptyReviewer = errors.New("reviewer cannot be empty")
)

// Flag records a manipulation classification of one content descriptor.
type Flag struct {
	ID            string     `json:"id"`
	CreatorID     string     `json:"creator_id"`
	DescriptorRef string     `json:"descriptor_ref"`
	Fingerprint   string     `json:"fingerprint"`
	Confidence    float64    `json:"confidence"`
	Categories    []string   `json:"categories"`
	Status        Status     `json:"status"`
	ReviewedBy    string     `json:"reviewed_by,omitempty"`
	CaseID        string     `json:"case_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Copy returns a deep copy of f.
func (f *Flag) Copy() *Flag {
	out := *f
	out.Categories = append([]string(nil), f.Categories...)
	if f.ResolvedAt != nil {
		t := *f.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// HumanReviewed reports whether a reviewer resolved the flag.
func (f *Flag) HumanReviewed() bool {
	return f.ReviewedBy != "" && f.Status.Final()
}

// ListFilter narrows a flag listing.
type ListFilter struct {
	Status    Status
	CreatorID string
	Limit     int
}

// FlagStore persists manipulation flags.
type FlagStore interface {
	Create(ctx context.Context, f *Flag) error
	Update(ctx context.Context, f *Flag) error
	Get(ctx context.Context, id string) (*Flag, error)
	// Delete removes a flag. Missing flags return ErrFlagNotFound.
	Delete(ctx context.Context, id string) error
	// ListByCreator returns a creator's flags, newest first.
	ListByCreator(ctx context.Context, creatorID string) ([]*Flag, error)
	// List returns flags matching filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Flag, error)
}
