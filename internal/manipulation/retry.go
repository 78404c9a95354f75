package manipulation

import (
	"sort"
	"sync"
)

// RetryTracker holds creators whose classification failed and should be
// retried on the next refresh cycle.
type RetryTracker struct {
	mu       sync.Mutex
	creators map[string]struct{}
}

// NewRetryTracker creates an empty tracker.
func NewRetryTracker() *RetryTracker {
	return &RetryTracker{creators: make(map[string]struct{})}
}

// Add schedules a creator for retry.
func (t *RetryTracker) Add(creatorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creators[creatorID] = struct{}{}
}

// Drain returns and clears all pending creators, sorted.
func (t *RetryTracker) Drain() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.creators))
	for id := range t.creators {
		out = append(out, id)
	}
	t.creators = make(map[string]struct{})
	sort.Strings(out)
	return out
}

// Len returns the number of pending creators.
func (t *RetryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.creators)
}
