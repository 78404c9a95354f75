package relevance

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoGeneration is returned when no snapshot has ever been published.
var ErrNoGeneration = errors.New("no relevance generation available")

// Snapshot is one published generation of relevance records.
type Snapshot struct {
	Generation  int64              `cbor:"generation"`
	PublishedAt time.Time          `cbor:"published_at"`
	Records     map[string]*Record `cbor:"records"`
	order       []string
}

func newSnapshot(generation int64, at time.Time, records map[string]*Record) *Snapshot {
	s := &Snapshot{Generation: generation, PublishedAt: at, Records: records}
	s.index()
	return s
}

func (s *Snapshot) index() {
	s.order = make([]string, 0, len(s.Records))
	for id := range s.Records {
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)
}

// Get returns a creator's record.
func (s *Snapshot) Get(creatorID string) (*Record, bool) {
	r, ok := s.Records[creatorID]
	return r, ok
}

// CreatorIDs returns all creator ids, sorted.
func (s *Snapshot) CreatorIDs() []string {
	return s.order
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.Records)
}

// Index holds the current snapshot.
type Index struct {
	current    atomic.Pointer[Snapshot]
	checkpoint CheckpointStore
	loads      singleflight.Group
}

// NewIndex creates an empty index. checkpoint may be nil.
func NewIndex(checkpoint CheckpointStore) *Index {
	return &Index{checkpoint: checkpoint}
}

// Current returns the published snapshot or nil.
func (i *Index) Current() *Snapshot {
	return i.current.Load()
}

// publish swaps in next. Callers must hold the single-writer role.
func (i *Index) publish(next *Snapshot) {
	i.current.Store(next)
}

// Acquire returns the current snapshot, loading the checkpoint once if no
// generation has been published in this process. Concurrent callers share
// one load.
func (i *Index) Acquire(ctx context.Context) (*Snapshot, error) {
	if s := i.current.Load(); s != nil {
		return s, nil
	}
	if i.checkpoint == nil {
		return nil, ErrNoGeneration
	}

	v, err, _ := i.loads.Do("checkpoint", func() (interface{}, error) {
		if s := i.current.Load(); s != nil {
			return s, nil
		}
		data, err := i.checkpoint.Load(ctx)
		if err != nil {
			return nil, err
		}
		s, err := DecodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		// A cycle may have published while the checkpoint loaded.
		if i.current.CompareAndSwap(nil, s) {
			return s, nil
		}
		return i.current.Load(), nil
	})
	if err != nil {
		if errors.Is(err, ErrNoCheckpoint) {
			return nil, ErrNoGeneration
		}
		return nil, err
	}
	return v.(*Snapshot), nil
}
