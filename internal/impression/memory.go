package impression

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/onnwee/discovery/internal/idempotency"
)

const shardCount = 32

type dayBucket struct {
	count int64
	seen  map[string]struct{}
}

type creatorCounts struct {
	days       map[int64]*dayBucket
	cumulative int64
}

type shard struct {
	mu       sync.Mutex
	creators map[string]*creatorCounts
}

// MemoryCounter is an in-memory Counter. Creators are spread over
// mutex-guarded shards so increments for different creators rarely contend.
type MemoryCounter struct {
	shards     [shardCount]*shard
	windowDays int
}

// NewMemoryCounter creates an in-memory counter with the given window.
// A non-positive window uses DefaultWindowDays.
func NewMemoryCounter(windowDays int) *MemoryCounter {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	c := &MemoryCounter{windowDays: windowDays}
	for i := range c.shards {
		c.shards[i] = &shard{creators: make(map[string]*creatorCounts)}
	}
	return c
}

func (c *MemoryCounter) shardFor(creatorID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(creatorID))
	return c.shards[h.Sum32()%shardCount]
}

// Record counts one impression if key has not been seen in the window.
func (c *MemoryCounter) Record(_ context.Context, creatorID, key string, at time.Time) (bool, error) {
	if creatorID == "" {
		return false, ErrEmptyCreator
	}
	if err := idempotency.ValidateKey(key); err != nil {
		return false, err
	}

	day := DayBucket(at)
	s := c.shardFor(creatorID)

	s.mu.Lock()
	defer s.mu.Unlock()

	cc, ok := s.creators[creatorID]
	if !ok {
		cc = &creatorCounts{days: make(map[int64]*dayBucket)}
		s.creators[creatorID] = cc
	}

	for bucketDay, b := range cc.days {
		if !inWindow(bucketDay, day, c.windowDays) {
			continue
		}
		if _, dup := b.seen[key]; dup {
			return false, nil
		}
	}

	b, ok := cc.days[day]
	if !ok {
		b = &dayBucket{seen: make(map[string]struct{})}
		cc.days[day] = b
	}
	b.seen[key] = struct{}{}
	b.count++
	cc.cumulative++

	return true, nil
}

// Totals returns the counts for one creator.
func (c *MemoryCounter) Totals(_ context.Context, creatorID string, now time.Time) (Totals, error) {
	s := c.shardFor(creatorID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cc, ok := s.creators[creatorID]
	if !ok {
		return Totals{}, nil
	}
	return c.totalsLocked(cc, DayBucket(now)), nil
}

// AllTotals returns counts for every known creator.
func (c *MemoryCounter) AllTotals(_ context.Context, now time.Time) (map[string]Totals, error) {
	today := DayBucket(now)
	out := make(map[string]Totals)
	for _, s := range c.shards {
		s.mu.Lock()
		for id, cc := range s.creators {
			out[id] = c.totalsLocked(cc, today)
		}
		s.mu.Unlock()
	}
	return out, nil
}

func (c *MemoryCounter) totalsLocked(cc *creatorCounts, today int64) Totals {
	t := Totals{Cumulative: cc.cumulative}
	for day, b := range cc.days {
		if inWindow(day, today, c.windowDays) {
			t.Rolling += b.count
		}
	}
	return t
}

// Prune drops buckets older than the window. Cumulative counts are kept.
func (c *MemoryCounter) Prune(_ context.Context, now time.Time) (int, error) {
	today := DayBucket(now)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for _, cc := range s.creators {
			for day := range cc.days {
				if day <= today-int64(c.windowDays) {
					delete(cc.days, day)
					removed++
				}
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Seed sets a creator's counts directly. Used to warm the counter from a
// backing store and in tests.
func (c *MemoryCounter) Seed(creatorID string, at time.Time, rolling, cumulative int64) {
	s := c.shardFor(creatorID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cc, ok := s.creators[creatorID]
	if !ok {
		cc = &creatorCounts{days: make(map[int64]*dayBucket)}
		s.creators[creatorID] = cc
	}
	day := DayBucket(at)
	b, ok := cc.days[day]
	if !ok {
		b = &dayBucket{seen: make(map[string]struct{})}
		cc.days[day] = b
	}
	b.count += rolling
	if cumulative < rolling {
		cumulative = rolling
	}
	cc.cumulative += cumulative
}
