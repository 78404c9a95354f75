// Package impression counts creator exposures over a rolling window of
// daily buckets. Each impression is identified by an idempotency key so a
// retried request is counted at most once.
package impression

import (
	"context"
	"errors"
	"time"
)

// DefaultWindowDays is the length of the rolling window.
const DefaultWindowDays = 7

// ErrEmptyCreator is returned when an impression has no creator id.
var ErrEmptyCreator = errors.New("impression creator id cannot be empty")

// Totals holds a creator's rolling and lifetime impression counts.
type Totals struct {
	Rolling    int64 `json:"rolling"`
	Cumulative int64 `json:"cumulative"`
}

// Counter records and reads impression counts.
// Implementations must be safe for concurrent use, and Record must be
// atomic increment-if-absent on the key.
type Counter interface {
	// Record counts one impression for creatorID identified by key.
	// Returns false if key was already counted within the window.
	Record(ctx context.Context, creatorID, key string, at time.Time) (bool, error)

	// Totals returns the counts for one creator as of now.
	Totals(ctx context.Context, creatorID string, now time.Time) (Totals, error)

	// AllTotals returns counts for every creator with any recorded impression.
	AllTotals(ctx context.Context, now time.Time) (map[string]Totals, error)

	// Prune drops buckets that have left the window. Returns buckets removed.
	Prune(ctx context.Context, now time.Time) (int, error)
}

// DayBucket returns the UTC day index of t.
func DayBucket(t time.Time) int64 {
	return t.UTC().Unix() / int64(24*time.Hour/time.Second)
}

// inWindow reports whether bucket is inside the window ending at today.
func inWindow(bucket, today int64, windowDays int) bool {
	return bucket <= today && bucket > today-int64(windowDays)
}
