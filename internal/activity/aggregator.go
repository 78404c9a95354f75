package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/onnwee/discovery/internal/ranking"
)

// DefaultTargetDuration is the view length treated as full retention.
const DefaultTargetDuration = 60 * time.Second

// Aggregate is the accumulated activity of one creator.
type Aggregate struct {
	CreatorID        string
	Views            int64
	WatchFractionSum float64
	Interactions     int64
	LanguageViews    map[string]int64
	RegionViews      map[string]int64
	LastActive       time.Time
}

// Reach returns the share of views per key of counts.
func Reach(counts map[string]int64) map[string]float64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	out := make(map[string]float64, len(counts))
	if total == 0 {
		return out
	}
	for k, n := range counts {
		out[k] = float64(n) / float64(total)
	}
	return out
}

func (a *Aggregate) copy() Aggregate {
	out := *a
	out.LanguageViews = make(map[string]int64, len(a.LanguageViews))
	for k, v := range a.LanguageViews {
		out.LanguageViews[k] = v
	}
	out.RegionViews = make(map[string]int64, len(a.RegionViews))
	for k, v := range a.RegionViews {
		out.RegionViews[k] = v
	}
	return out
}

// Aggregator folds activity events into per-creator aggregates and tracks
// the watermark of the newest applied event. Duplicate event ids are
// ignored while they remain in the recent-id set.
type Aggregator struct {
	mu        sync.RWMutex
	target    time.Duration
	creators  map[string]*Aggregate
	watermark time.Time
	seen      map[string]time.Time
}

// NewAggregator creates an aggregator. target is the view duration counted
// as a full watch.
func NewAggregator(target time.Duration) *Aggregator {
	if target <= 0 {
		target = DefaultTargetDuration
	}
	return &Aggregator{
		target:   target,
		creators: make(map[string]*Aggregate),
		seen:     make(map[string]time.Time),
	}
}

// Apply folds events into the aggregates. Invalid and duplicate events are
// skipped. Returns the number of events applied.
func (a *Aggregator) Apply(events []Event) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	applied := 0
	for i := range events {
		e := &events[i]
		if e.Validate() != nil {
			continue
		}
		if e.ID != "" {
			if _, dup := a.seen[e.ID]; dup {
				continue
			}
			a.seen[e.ID] = e.At
		}

		agg, ok := a.creators[e.CreatorID]
		if !ok {
			agg = &Aggregate{
				CreatorID:     e.CreatorID,
				LanguageViews: make(map[string]int64),
				RegionViews:   make(map[string]int64),
			}
			a.creators[e.CreatorID] = agg
		}

		if e.Type == EventView {
			agg.Views++
			agg.WatchFractionSum += ranking.WatchFraction(e.DurationMs, a.target.Milliseconds())
			if e.Language != "" {
				agg.LanguageViews[e.Language]++
			}
			if e.Region != "" {
				agg.RegionViews[e.Region]++
			}
		} else {
			agg.Interactions++
		}
		if e.At.After(agg.LastActive) {
			agg.LastActive = e.At
		}
		if e.At.After(a.watermark) {
			a.watermark = e.At
		}
		applied++
	}
	return applied
}

// Watermark returns the timestamp of the newest applied event.
func (a *Aggregator) Watermark() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.watermark
}

// Get returns a copy of a creator's aggregate.
func (a *Aggregator) Get(creatorID string) (Aggregate, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	agg, ok := a.creators[creatorID]
	if !ok {
		return Aggregate{CreatorID: creatorID}, false
	}
	return agg.copy(), true
}

// ActiveSince returns creators with activity at or after t, sorted by id.
func (a *Aggregator) ActiveSince(t time.Time) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	for id, agg := range a.creators {
		if !agg.LastActive.Before(t) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ForgetSeenBefore drops recent-id entries older than t. Returns the number
// removed.
func (a *Aggregator) ForgetSeenBefore(t time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for id, at := range a.seen {
		if at.Before(t) {
			delete(a.seen, id)
			removed++
		}
	}
	return removed
}
