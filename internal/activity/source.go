package activity

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/discovery/internal/upstream"
)

// MemoryLog is an in-memory activity log implementing Source and Sink.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
	fail   bool
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append adds events to the log. Events without an id get one.
func (l *MemoryLog) Append(_ context.Context, events ...Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		l.events = append(l.events, e)
	}
	sort.SliceStable(l.events, func(i, j int) bool { return l.events[i].At.Before(l.events[j].At) })
	return nil
}

// SetFailing toggles simulated unavailability.
func (l *MemoryLog) SetFailing(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = fail
}

// GetRawActivityEvents implements Source.
func (l *MemoryLog) GetRawActivityEvents(_ context.Context, since time.Time) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.fail {
		return nil, fmt.Errorf("%w: activity log offline", upstream.ErrUnavailable)
	}
	idx := sort.Search(len(l.events), func(i int) bool { return l.events[i].At.After(since) })
	return append([]Event(nil), l.events[idx:]...), nil
}

// HTTPSource reads events from the activity subsystem's HTTP API.
type HTTPSource struct {
	client *upstream.HTTPClient
	limit  int
}

// NewHTTPSource creates a source. limit caps events per request.
func NewHTTPSource(client *upstream.HTTPClient, limit int) *HTTPSource {
	if limit <= 0 {
		limit = 5000
	}
	return &HTTPSource{client: client, limit: limit}
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

// GetRawActivityEvents implements Source.
func (s *HTTPSource) GetRawActivityEvents(ctx context.Context, since time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	q.Set("limit", fmt.Sprintf("%d", s.limit))

	var resp eventsResponse
	if err := s.client.GetJSON(ctx, "/events", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch activity events: %w", err)
	}
	sort.SliceStable(resp.Events, func(i, j int) bool { return resp.Events[i].At.Before(resp.Events[j].At) })
	return resp.Events, nil
}
