// Package activity consumes the external activity log and maintains
// per-creator activity aggregates used for relevance computation.
package activity

import (
	"context"
	"errors"
	"time"
)

// EventType identifies a kind of viewer activity.
type EventType string

// Event types.
const (
	EventView   EventType = "view"
	EventLike   EventType = "like"
	EventFollow EventType = "follow"
	EventShare  EventType = "share"
)

// ErrInvalidEvent is returned for events missing required fields.
var ErrInvalidEvent = errors.New("invalid activity event")

// Event is one entry of the activity log.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	ViewerID   string    `json:"viewer_id"`
	CreatorID  string    `json:"creator_id"`
	Category   string    `json:"category,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Language   string    `json:"language,omitempty"`
	Region     string    `json:"region,omitempty"`
	At         time.Time `json:"at"`
}

// Validate checks the event has the fields aggregation needs.
func (e *Event) Validate() error {
	if e.CreatorID == "" || e.ViewerID == "" {
		return ErrInvalidEvent
	}
	switch e.Type {
	case EventView, EventLike, EventFollow, EventShare:
	default:
		return ErrInvalidEvent
	}
	if e.At.IsZero() {
		return ErrInvalidEvent
	}
	return nil
}

// affinityWeight is the interest weight a non-view interaction adds to the
// viewer's profile. Views are weighted by watch fraction in the Ingestor.
func affinityWeight(t EventType) float64 {
	switch t {
	case EventLike:
		return 1.0
	case EventShare:
		return 1.5
	case EventFollow:
		return 2.0
	default:
		return 0
	}
}

// Source reads the external activity log.
type Source interface {
	// GetRawActivityEvents returns events strictly after since, oldest first.
	GetRawActivityEvents(ctx context.Context, since time.Time) ([]Event, error)
}

// Sink appends events to the activity log.
type Sink interface {
	Append(ctx context.Context, events ...Event) error
}
