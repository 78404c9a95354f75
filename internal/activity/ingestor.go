package activity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/discovery/internal/idempotency"
	"github.com/onnwee/discovery/internal/interest"
	"github.com/onnwee/discovery/internal/ranking"
)

// View is a content view reported by a client.
type View struct {
	ViewerID   string `json:"viewer_id"`
	CreatorID  string `json:"creator_id"`
	Category   string `json:"category"`
	DurationMs int64  `json:"duration_ms"`
	// ClientKey is an optional client-supplied retry token.
	ClientKey string    `json:"client_key,omitempty"`
	Language  string    `json:"language,omitempty"`
	Region    string    `json:"region,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

// IngestorConfig configures the Ingestor.
type IngestorConfig struct {
	QueueSize      int
	Timeout        time.Duration
	TargetDuration time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
}

// Ingestor applies content views to interest profiles asynchronously. When
// a Sink is configured the view is also appended to the activity log so the
// refresh cycle sees it in creator aggregates.
type Ingestor struct {
	config   IngestorConfig
	profiles interest.Store
	keys     idempotency.Repository
	sink     Sink
	queue    chan View

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewIngestor creates an ingestor. keys and sink may be nil.
func NewIngestor(config IngestorConfig, profiles interest.Store, keys idempotency.Repository, sink Sink) *Ingestor {
	if config.QueueSize <= 0 {
		config.QueueSize = 10000
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.TargetDuration <= 0 {
		config.TargetDuration = DefaultTargetDuration
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Ingestor{
		config:   config,
		profiles: profiles,
		keys:     keys,
		sink:     sink,
		queue:    make(chan View, config.QueueSize),
	}
}

// Submit enqueues a view without blocking. Returns false if it was dropped.
func (i *Ingestor) Submit(v View) bool {
	if v.At.IsZero() {
		v.At = time.Now()
	}
	select {
	case i.queue <- v:
		return true
	default:
		if i.config.Metrics != nil {
			i.config.Metrics.dropped.Inc()
		}
		i.config.Logger.Warn("view queue full, dropping view", "creator_id", v.CreatorID)
		return false
	}
}

// Start launches the worker goroutine.
func (i *Ingestor) Start(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running {
		return
	}
	i.running = true
	i.stopCh = make(chan struct{})
	i.wg.Add(1)
	go i.run(ctx, i.stopCh)
}

// Stop drains the queue and waits for the worker to exit.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	close(i.stopCh)
	i.running = false
	i.mu.Unlock()
	i.wg.Wait()
}

func (i *Ingestor) run(ctx context.Context, stopCh <-chan struct{}) {
	defer i.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			for {
				select {
				case v := <-i.queue:
					i.process(ctx, v)
				default:
					return
				}
			}
		case v := <-i.queue:
			i.process(ctx, v)
		}
	}
}

func (i *Ingestor) process(parent context.Context, v View) {
	ctx, cancel := context.WithTimeout(parent, i.config.Timeout)
	defer cancel()

	if err := i.Apply(ctx, v); err != nil {
		if errors.Is(err, idempotency.ErrKeyExists) {
			if i.config.Metrics != nil {
				i.config.Metrics.duplicate.Inc()
			}
			return
		}
		i.config.Logger.Error("failed to ingest view",
			"viewer_id", v.ViewerID,
			"creator_id", v.CreatorID,
			"error", err)
		if i.config.Metrics != nil {
			i.config.Metrics.errors.Inc()
		}
		return
	}
	if i.config.Metrics != nil {
		i.config.Metrics.ingested.Inc()
	}
}

// Apply synchronously applies one view. A retried view with the same
// client key returns idempotency.ErrKeyExists.
func (i *Ingestor) Apply(ctx context.Context, v View) error {
	if v.ViewerID == "" || v.CreatorID == "" {
		return ErrInvalidEvent
	}
	if v.At.IsZero() {
		v.At = time.Now()
	}

	eventID := uuid.New().String()
	if v.ClientKey != "" {
		key := idempotency.ViewKey(v.ViewerID, v.ClientKey)
		eventID = key
		if i.keys != nil {
			if err := i.keys.Store(&idempotency.Record{Key: key, Scope: idempotency.ScopeView, CreatedAt: v.At}); err != nil {
				return err
			}
		}
	}

	if v.Category != "" {
		wf := ranking.WatchFraction(v.DurationMs, i.config.TargetDuration.Milliseconds())
		if err := i.profiles.AddAffinity(ctx, v.ViewerID, v.Category, 0.5+0.5*wf, v.At); err != nil {
			return err
		}
	}
	if v.Language != "" || v.Region != "" {
		if err := i.profiles.SetLocale(ctx, v.ViewerID, v.Language, v.Region, v.At); err != nil {
			return err
		}
	}

	if i.sink != nil {
		return i.sink.Append(ctx, Event{
			ID:         eventID,
			Type:       EventView,
			ViewerID:   v.ViewerID,
			CreatorID:  v.CreatorID,
			Category:   v.Category,
			DurationMs: v.DurationMs,
			Language:   v.Language,
			Region:     v.Region,
			At:         v.At,
		})
	}
	return nil
}

// UpdateProfiles applies non-view interactions from the activity log to
// interest profiles. Views are applied by the Ingestor when reported.
// Returns the number of profile updates and the first error encountered.
func UpdateProfiles(ctx context.Context, profiles interest.Store, events []Event) (int, error) {
	var firstErr error
	updated := 0
	for _, e := range events {
		w := affinityWeight(e.Type)
		if w == 0 || e.Category == "" || e.ViewerID == "" {
			continue
		}
		if err := profiles.AddAffinity(ctx, e.ViewerID, e.Category, w, e.At); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		updated++
	}
	return updated, firstErr
}
