package impression

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/discovery/internal/idempotency"
)

// Intent is a request to count one impression.
type Intent struct {
	CreatorID string
	ViewerID  string
	SessionID string
	At        time.Time
}

// Key returns the intent's idempotency key.
func (i Intent) Key() string {
	return idempotency.ImpressionKey(i.CreatorID, i.ViewerID, i.SessionID)
}

// RecorderConfig configures the asynchronous recorder.
type RecorderConfig struct {
	// QueueSize bounds the number of pending intents.
	QueueSize int
	// Workers is the number of goroutines draining the queue.
	Workers int
	// Timeout for each Record call.
	Timeout time.Duration
	// Logger for recorder activity.
	Logger *slog.Logger
	// Metrics for recorder activity (optional).
	Metrics *Metrics
}

// Recorder defaults.
const (
	DefaultQueueSize     = 10000
	DefaultWorkers       = 4
	DefaultRecordTimeout = 2 * time.Second
)

// Recorder counts impressions off the request path. Enqueue never blocks;
// when the queue is full the intent is dropped and counted.
type Recorder struct {
	config  RecorderConfig
	counter Counter
	queue   chan Intent

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder in front of counter.
func NewRecorder(config RecorderConfig, counter Counter) *Recorder {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRecordTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Recorder{
		config:  config,
		counter: counter,
		queue:   make(chan Intent, config.QueueSize),
	}
}

// Enqueue submits intents without blocking. Returns the number accepted.
func (r *Recorder) Enqueue(intents ...Intent) int {
	accepted := 0
	for _, in := range intents {
		select {
		case r.queue <- in:
			accepted++
		default:
			if r.config.Metrics != nil {
				r.config.Metrics.dropped.Inc()
			}
		}
	}
	if r.config.Metrics != nil {
		r.config.Metrics.queueDepth.Set(float64(len(r.queue)))
	}
	if dropped := len(intents) - accepted; dropped > 0 {
		r.config.Logger.Warn("impression queue full, dropping intents", "dropped", dropped)
	}
	return accepted
}

// Start launches the worker goroutines.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, r.stopCh)
	}
}

// Stop signals workers to drain the queue and waits for them to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) work(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			r.drain(ctx)
			return
		case in := <-r.queue:
			r.record(ctx, in)
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case in := <-r.queue:
			r.record(ctx, in)
		default:
			return
		}
	}
}

func (r *Recorder) record(parent context.Context, in Intent) {
	ctx, cancel := context.WithTimeout(parent, r.config.Timeout)
	defer cancel()

	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	counted, err := r.counter.Record(ctx, in.CreatorID, in.Key(), at)
	if err != nil {
		r.config.Logger.Error("failed to record impression",
			"creator_id", in.CreatorID,
			"error", err)
		if r.config.Metrics != nil {
			r.config.Metrics.errors.Inc()
		}
		return
	}
	if r.config.Metrics != nil {
		if counted {
			r.config.Metrics.recorded.Inc()
		} else {
			r.config.Metrics.duplicate.Inc()
		}
		r.config.Metrics.queueDepth.Set(float64(len(r.queue)))
	}
}
