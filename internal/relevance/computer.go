package relevance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/discovery/internal/activity"
	"github.com/onnwee/discovery/internal/manipulation"
	"github.com/onnwee/discovery/internal/ranking"
	"github.com/onnwee/discovery/internal/tracing"
	"github.com/onnwee/discovery/internal/upstream"
)

// DefaultRecencyHalfLife is the recency decay half-life.
const DefaultRecencyHalfLife = 72 * time.Hour

// Aggregates reads creator activity aggregates.
type Aggregates interface {
	Get(creatorID string) (activity.Aggregate, bool)
}

// Assessor produces manipulation assessments.
type Assessor interface {
	Assess(ctx context.Context, creatorID string) manipulation.Assessment
}

// ComputerConfig configures the Computer.
type ComputerConfig struct {
	Weights         *ranking.Weights
	Bands           ranking.ConfidenceBands
	RecencyHalfLife time.Duration
	Logger          *slog.Logger
	Metrics         *Metrics
	Now             func() time.Time
}

// Result summarizes a recomputation.
type Result struct {
	Generation int64
	Computed   int
	Failed     map[string]error
}

// Computer builds relevance records and is the single writer of the Index.
type Computer struct {
	config     ComputerConfig
	index      *Index
	aggregates Aggregates
	catalog    upstream.Catalog
	assessor   Assessor

	publishMu sync.Mutex
}

// NewComputer creates a Computer publishing into index.
func NewComputer(config ComputerConfig, index *Index, aggregates Aggregates, catalog upstream.Catalog, assessor Assessor) *Computer {
	if config.Weights == nil {
		config.Weights = ranking.DefaultWeights()
	}
	if config.Bands == (ranking.ConfidenceBands{}) {
		config.Bands = ranking.DefaultBands()
	}
	if config.RecencyHalfLife <= 0 {
		config.RecencyHalfLife = DefaultRecencyHalfLife
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Computer{
		config:     config,
		index:      index,
		aggregates: aggregates,
		catalog:    catalog,
		assessor:   assessor,
	}
}

// Index returns the index the computer publishes into.
func (c *Computer) Index() *Index {
	return c.index
}

// RecomputeGeneration computes records for creatorIDs and publishes them as
// one new generation. Creators that fail keep their previous record. If ctx
// is cancelled nothing is published.
func (c *Computer) RecomputeGeneration(ctx context.Context, creatorIDs []string) (Result, error) {
	records, failed, err := c.Compute(ctx, creatorIDs)
	if err != nil {
		return Result{Failed: failed}, err
	}
	snap, err := c.Publish(ctx, records)
	if err != nil {
		return Result{Failed: failed}, err
	}
	return Result{Generation: snap.Generation, Computed: len(records), Failed: failed}, nil
}

// Compute builds records without publishing them. Per-creator failures are
// returned in the map; a non-nil error means ctx was cancelled and the
// records must be discarded.
func (c *Computer) Compute(ctx context.Context, creatorIDs []string) (_ map[string]*Record, _ map[string]error, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "relevance.compute", tracing.AttrCreators.Int(len(creatorIDs)))
	defer func() { endSpan(err) }()

	records := make(map[string]*Record, len(creatorIDs))
	failed := make(map[string]error)
	for _, id := range creatorIDs {
		if err = ctx.Err(); err != nil {
			return nil, failed, err
		}
		rec, err := c.computeOne(ctx, id)
		if err != nil {
			failed[id] = err
			if c.config.Metrics != nil {
				c.config.Metrics.computeFailures.Inc()
			}
			continue
		}
		records[id] = rec
	}
	return records, failed, nil
}

func (c *Computer) computeOne(ctx context.Context, creatorID string) (*Record, error) {
	profile, err := c.catalog.GetCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load creator %s: %w", creatorID, err)
	}
	agg, _ := c.aggregates.Get(creatorID)
	assessment := c.assessor.Assess(ctx, creatorID)

	now := c.config.Now()
	conf := ranking.Clamp01(assessment.Confidence)
	factors := ranking.Factors{
		Topical:   ranking.BaselineTopical(profile.Categories),
		Language:  ranking.NeutralScore,
		Region:    ranking.NeutralScore,
		Recency:   ranking.RecencyScore(agg.LastActive, now, c.config.RecencyHalfLife),
		Retention: ranking.RetentionScore(agg.WatchFractionSum, agg.Views),
		Safety:    ranking.SafetyScore(conf),
	}.Clamped()

	multiplier := ranking.ManipulationMultiplier(conf, c.config.Bands)
	weighted := ranking.WeightedSum(factors, c.config.Weights) * multiplier

	rotation := RotationNormal
	if conf >= c.config.Bands.Confirm {
		rotation = RotationDemoted
	}

	return &Record{
		CreatorID:              creatorID,
		SubScores:              factors,
		CategoryMatch:          profile.Categories,
		Categories:             profile.CategoryNames(),
		Language:               profile.Language,
		Region:                 profile.Region,
		LanguageReach:          activity.Reach(agg.LanguageViews),
		RegionReach:            activity.Reach(agg.RegionViews),
		CreatorSince:           profile.CreatedAt,
		Weighted:               weighted,
		Composite:              ranking.ScaleComposite(weighted),
		ManipulationConfidence: conf,
		ManipulationMultiplier: multiplier,
		ManipulationCategories: assessment.Categories,
		FlagStatus:             assessment.FlagStatus,
		DetectorDegraded:       assessment.Degraded,
		RotationState:          rotation,
		ComputedAt:             now,
	}, nil
}

// Publish merges records into a copy of the current snapshot and swaps it
// in as the next generation. The checkpoint is saved after the swap; a
// failed save is logged and does not undo the publication.
func (c *Computer) Publish(ctx context.Context, records map[string]*Record) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	prev := c.index.Current()
	var generation int64 = 1
	merged := make(map[string]*Record, len(records))
	if prev != nil {
		generation = prev.Generation + 1
		for id, r := range prev.Records {
			merged[id] = r
		}
	}
	for id, r := range records {
		r.Generation = generation
		merged[id] = r
	}

	next := newSnapshot(generation, c.config.Now(), merged)
	c.index.publish(next)

	demoted := 0
	for _, r := range merged {
		if r.RotationState == RotationDemoted {
			demoted++
		}
	}
	if c.config.Metrics != nil {
		c.config.Metrics.generation.Set(float64(generation))
		c.config.Metrics.records.Set(float64(len(merged)))
		c.config.Metrics.demoted.Set(float64(demoted))
	}
	c.config.Logger.Info("relevance generation published",
		"generation", generation,
		"updated", len(records),
		"total", len(merged),
		"demoted", demoted)

	if c.index.checkpoint != nil {
		data, err := EncodeSnapshot(next)
		if err == nil {
			err = c.index.checkpoint.Save(ctx, data)
		}
		if err != nil {
			c.config.Logger.Warn("failed to save relevance checkpoint", "generation", generation, "error", err)
			if c.config.Metrics != nil {
				c.config.Metrics.checkpointFails.Inc()
			}
		}
	}
	return next, nil
}
