// Package refresh recomputes the creator relevance index in the background.
//
// A cycle pulls new activity, picks the creators that need recomputation,
// computes them in bounded batches, and publishes everything that succeeded
// as one new generation. A cancelled cycle publishes nothing.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/discovery/internal/activity"
	"github.com/onnwee/discovery/internal/density"
	"github.com/onnwee/discovery/internal/impression"
	"github.com/onnwee/discovery/internal/interest"
	"github.com/onnwee/discovery/internal/relevance"
	"github.com/onnwee/discovery/internal/tracing"
	"github.com/onnwee/discovery/internal/upstream"
)

// JobType labels refresh cycles in centralized job metrics.
const JobType = "relevance_refresh"

// ErrCycleInProgress is returned when a cycle is requested while one runs.
var ErrCycleInProgress = errors.New("refresh cycle already in progress")

// Defaults.
const (
	DefaultWindow         = 7 * 24 * time.Hour
	DefaultBatchSize      = 100
	DefaultConcurrency    = 4
	DefaultMaxPerCycle    = 5000
	DefaultMinPerCycle    = 50
	DefaultTargetDuration = 2 * time.Minute
	DefaultBatchRetries   = 3
	DefaultRetryInterval  = 200 * time.Millisecond
)

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobErrors(jobType, errorType string)
}

// RetrySet tracks creators whose manipulation assessment must be retried.
type RetrySet interface {
	Add(creatorID string)
	Drain() []string
}

// Config configures the Scheduler.
type Config struct {
	// Window is the trailing activity window that selects creators.
	Window time.Duration
	// BatchSize is the number of creators computed per batch.
	BatchSize int
	// Concurrency bounds batches computed at once.
	Concurrency int
	// MaxPerCycle and MinPerCycle bound the adaptive per-cycle budget.
	MaxPerCycle int
	MinPerCycle int
	// TargetDuration is the cycle duration above which the budget halves.
	TargetDuration time.Duration
	// BatchRetries is the number of retries for a batch whose creators hit
	// an unavailable collaborator.
	BatchRetries  int
	RetryInterval time.Duration

	Logger     *slog.Logger
	Metrics    *Metrics
	JobMetrics JobMetrics
	Now        func() time.Time
}

// CycleReport summarizes one refresh cycle.
type CycleReport struct {
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	EventsPulled  int           `json:"events_pulled"`
	EventsApplied int           `json:"events_applied"`
	SourceError   string        `json:"source_error,omitempty"`
	Candidates    int           `json:"candidates"`
	Selected      int           `json:"selected"`
	Deferred      int           `json:"deferred"`
	Budget        int           `json:"budget"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Computed      int           `json:"computed"`
	Failed        int           `json:"failed"`
	Generation    int64         `json:"generation"`
	DensityError  string        `json:"density_error,omitempty"`
}

// Scheduler runs refresh cycles.
type Scheduler struct {
	config     Config
	source     activity.Source
	aggregator *activity.Aggregator
	profiles   interest.Store
	computer   *relevance.Computer
	retry      RetrySet
	rotation   *density.Controller
	counter    impression.Counter

	running atomic.Bool
	budget  atomic.Int64
}

// NewScheduler creates a Scheduler. source, profiles, retry and counter may be nil.
func NewScheduler(
	config Config,
	source activity.Source,
	aggregator *activity.Aggregator,
	profiles interest.Store,
	computer *relevance.Computer,
	retry RetrySet,
	rotation *density.Controller,
	counter impression.Counter,
) *Scheduler {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.MaxPerCycle <= 0 {
		config.MaxPerCycle = DefaultMaxPerCycle
	}
	if config.MinPerCycle <= 0 {
		config.MinPerCycle = DefaultMinPerCycle
	}
	if config.MinPerCycle > config.MaxPerCycle {
		config.MinPerCycle = config.MaxPerCycle
	}
	if config.TargetDuration <= 0 {
		config.TargetDuration = DefaultTargetDuration
	}
	if config.BatchRetries < 0 {
		config.BatchRetries = 0
	} else if config.BatchRetries == 0 {
		config.BatchRetries = DefaultBatchRetries
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	s := &Scheduler{
		config:     config,
		source:     source,
		aggregator: aggregator,
		profiles:   profiles,
		computer:   computer,
		retry:      retry,
		rotation:   rotation,
		counter:    counter,
	}
	s.budget.Store(int64(config.MaxPerCycle))
	if config.Metrics != nil {
		config.Metrics.budget.Set(float64(config.MaxPerCycle))
	}
	return s
}

// Budget returns the current per-cycle creator budget.
func (s *Scheduler) Budget() int {
	return int(s.budget.Load())
}

// RunCycle runs one refresh cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (_ *CycleReport, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "refresh.cycle")
	defer func() { endSpan(err) }()
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	start := s.config.Now()
	report := &CycleReport{StartedAt: start, Budget: s.Budget()}

	s.pull(ctx, report)

	retried := make(map[string]bool)
	if s.retry != nil {
		for _, id := range s.retry.Drain() {
			retried[id] = true
		}
	}
	selected, deferred := s.selectCreators(start, retried, report.Budget)
	report.Candidates = len(selected) + len(deferred)
	report.Selected = len(selected)
	report.Deferred = len(deferred)
	for _, id := range deferred {
		if retried[id] {
			s.retry.Add(id)
		}
	}

	records, failed, err := s.computeBatches(ctx, selected, report)
	if err != nil {
		s.requeue(retried, selected)
		s.finish(report, start, "cancelled")
		s.config.Logger.Warn("refresh cycle interrupted, nothing published",
			"selected", len(selected),
			"error", err)
		return report, err
	}
	report.Computed = len(records)
	report.Failed = len(failed)
	for id := range failed {
		if retried[id] {
			s.retry.Add(id)
		}
	}

	if len(records) > 0 {
		snap, err := s.computer.Publish(ctx, records)
		if err != nil {
			s.requeue(retried, selected)
			s.finish(report, start, "cancelled")
			return report, fmt.Errorf("failed to publish generation: %w", err)
		}
		report.Generation = snap.Generation
	} else if snap := s.computer.Index().Current(); snap != nil {
		report.Generation = snap.Generation
	}

	s.rebuildDensity(ctx, start, selected, report)

	status := "success"
	if report.FailedBatches > 0 {
		status = "partial"
	}
	s.finish(report, start, status)
	s.adjustBudget(report.Duration, len(deferred))
	tracing.SetAttributes(ctx,
		tracing.AttrGeneration.Int64(report.Generation),
		tracing.AttrCreators.Int(report.Selected),
	)

	s.config.Logger.Info("refresh cycle completed",
		"generation", report.Generation,
		"duration_seconds", report.Duration.Seconds(),
		"events_pulled", report.EventsPulled,
		"selected", report.Selected,
		"deferred", report.Deferred,
		"computed", report.Computed,
		"failed", report.Failed,
		"failed_batches", report.FailedBatches)
	return report, nil
}

// pull applies new activity to the aggregator and interest profiles. A
// source failure leaves the existing aggregates in place.
func (s *Scheduler) pull(ctx context.Context, report *CycleReport) {
	if s.source == nil {
		return
	}
	events, err := s.source.GetRawActivityEvents(ctx, s.aggregator.Watermark())
	if err != nil {
		report.SourceError = err.Error()
		s.config.Logger.Warn("activity source unavailable, using existing aggregates", "error", err)
		if s.config.JobMetrics != nil {
			s.config.JobMetrics.IncJobErrors(JobType, "activity_source")
		}
		return
	}
	report.EventsPulled = len(events)
	report.EventsApplied = s.aggregator.Apply(events)

	if s.profiles != nil {
		if _, err := activity.UpdateProfiles(ctx, s.profiles, events); err != nil {
			s.config.Logger.Warn("failed to update some interest profiles", "error", err)
		}
	}
}

// selectCreators returns the creators to compute this cycle, least recently
// computed first, and the ones left over by the budget.
func (s *Scheduler) selectCreators(now time.Time, retried map[string]bool, budget int) (selected, deferred []string) {
	set := make(map[string]bool)
	for _, id := range s.aggregator.ActiveSince(now.Add(-s.config.Window)) {
		set[id] = true
	}
	for id := range retried {
		set[id] = true
	}

	snap := s.computer.Index().Current()
	computedAt := func(id string) time.Time {
		if snap == nil {
			return time.Time{}
		}
		if r, ok := snap.Get(id); ok {
			return r.ComputedAt
		}
		return time.Time{}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := computedAt(ids[i]), computedAt(ids[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ids[i] < ids[j]
	})

	if len(ids) <= budget {
		return ids, nil
	}
	return ids[:budget], ids[budget:]
}

// computeBatches computes selected creators in fixed-size batches. Batch
// failures are isolated; only cancellation returns an error.
func (s *Scheduler) computeBatches(ctx context.Context, selected []string, report *CycleReport) (map[string]*relevance.Record, map[string]error, error) {
	records := make(map[string]*relevance.Record, len(selected))
	failed := make(map[string]error)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for start := 0; start < len(selected); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(selected) {
			end = len(selected)
		}
		batch := selected[start:end]
		report.Batches++

		g.Go(func() error {
			recs, errs, err := s.runBatch(ctx, batch)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			mu.Lock()
			defer mu.Unlock()
			for id, r := range recs {
				records[id] = r
			}
			for id, e := range errs {
				failed[id] = e
			}
			if err != nil {
				report.FailedBatches++
				s.config.Logger.Error("refresh batch failed after retries",
					"batch_size", len(batch),
					"failed", len(errs),
					"error", err)
				if s.config.Metrics != nil {
					s.config.Metrics.batchFailures.Inc()
				}
				if s.config.JobMetrics != nil {
					s.config.JobMetrics.IncJobErrors(JobType, "batch_failure")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if s.config.Metrics != nil {
		s.config.Metrics.computed.Add(float64(len(records)))
		s.config.Metrics.failed.Add(float64(len(failed)))
	}
	return records, failed, nil
}

// runBatch computes one batch, retrying creators whose collaborators were
// unavailable with exponential backoff. It returns the records computed,
// the creators still failing, and an error when retries ran out.
func (s *Scheduler) runBatch(ctx context.Context, batch []string) (map[string]*relevance.Record, map[string]error, error) {
	records := make(map[string]*relevance.Record, len(batch))
	failed := make(map[string]error)
	pending := batch

	operation := func() error {
		recs, errs, err := s.computer.Compute(ctx, pending)
		if err != nil {
			return backoff.Permanent(err)
		}
		var retry []string
		for _, id := range pending {
			if r, ok := recs[id]; ok {
				records[id] = r
				delete(failed, id)
				continue
			}
			if e, ok := errs[id]; ok {
				failed[id] = e
				if errors.Is(e, upstream.ErrUnavailable) {
					retry = append(retry, id)
				}
			}
		}
		if len(retry) == 0 {
			return nil
		}
		pending = retry
		return fmt.Errorf("%d creators unavailable: %w", len(retry), upstream.ErrUnavailable)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryInterval
	b.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.config.BatchRetries)), ctx))
	return records, failed, err
}

func (s *Scheduler) rebuildDensity(ctx context.Context, now time.Time, selected []string, report *CycleReport) {
	if s.counter != nil {
		if _, err := s.counter.Prune(ctx, now); err != nil {
			s.config.Logger.Warn("failed to prune impression buckets", "error", err)
		}
	}
	s.aggregator.ForgetSeenBefore(now.Add(-s.config.Window))

	if s.rotation == nil {
		return
	}
	ids := selected
	if snap := s.computer.Index().Current(); snap != nil {
		ids = snap.CreatorIDs()
	}
	if _, err := s.rotation.Rebuild(ctx, ids); err != nil {
		report.DensityError = err.Error()
		s.config.Logger.Error("failed to rebuild density table, keeping previous table", "error", err)
		if s.config.JobMetrics != nil {
			s.config.JobMetrics.IncJobErrors(JobType, "density_rebuild")
		}
	}
}

// requeue returns drained retry creators to the tracker after an
// interrupted cycle.
func (s *Scheduler) requeue(retried map[string]bool, selected []string) {
	for _, id := range selected {
		if retried[id] {
			s.retry.Add(id)
		}
	}
}

func (s *Scheduler) finish(report *CycleReport, start time.Time, status string) {
	report.Duration = s.config.Now().Sub(start)
	if s.config.Metrics != nil {
		s.config.Metrics.cycles.WithLabelValues(status).Inc()
		s.config.Metrics.cycleDuration.Observe(report.Duration.Seconds())
		s.config.Metrics.deferred.Set(float64(report.Deferred))
	}
}

// adjustBudget halves the budget after an overrun and grows it back by a
// quarter after a cycle that finished in time with work left over.
func (s *Scheduler) adjustBudget(took time.Duration, deferred int) {
	budget := int(s.budget.Load())
	next := budget
	switch {
	case took > s.config.TargetDuration:
		next = budget / 2
		if next < s.config.MinPerCycle {
			next = s.config.MinPerCycle
		}
		s.config.Logger.Warn("refresh cycle overran target, shrinking budget",
			"duration_seconds", took.Seconds(),
			"target_seconds", s.config.TargetDuration.Seconds(),
			"budget", next)
	case budget < s.config.MaxPerCycle && (deferred > 0 || took < s.config.TargetDuration/2):
		next = budget + budget/4 + 1
		if next > s.config.MaxPerCycle {
			next = s.config.MaxPerCycle
		}
	}
	if next != budget {
		s.budget.Store(int64(next))
		if s.config.Metrics != nil {
			s.config.Metrics.budget.Set(float64(next))
		}
	}
}
