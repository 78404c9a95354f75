// Package density tracks creator exposure and limits over-exposed creators.
//
// The rotation table is rebuilt off to the side from the impression counter
// and published by atomic pointer swap. Readers use whatever table is
// current and never block on a rebuild.
package density

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/onnwee/discovery/internal/impression"
	"github.com/onnwee/discovery/internal/ranking"
	"github.com/onnwee/discovery/internal/tuning"
)

// Rotation is a creator's exposure rotation state.
type Rotation string

// Rotation states.
const (
	RotationNormal  Rotation = "NORMAL"
	RotationLimited Rotation = "LIMITED"
)

// Defaults.
const (
	DefaultLowerPercentile     = 20.0
	DefaultLimitedSelectionCap = 0.5
)

// State is a creator's rotation state in the current table.
type State struct {
	CreatorID             string   `json:"creator_id"`
	Rotation              Rotation `json:"rotation"`
	DensityPenalty        float64  `json:"density_penalty"`
	SelectionCap          float64  `json:"selection_cap"`
	RollingImpressions    int64    `json:"rolling_impressions"`
	CumulativeImpressions int64    `json:"cumulative_impressions"`
	Percentile            float64  `json:"percentile"`
	UnderServed           bool     `json:"under_served"`
}

// Table is one published rotation table.
type Table struct {
	Generation      int64
	BuiltAt         time.Time
	Params          tuning.Params
	LowerPercentile float64
	entries         map[string]State
}

// Config configures the Controller.
type Config struct {
	LowerPercentile     float64
	LimitedSelectionCap float64
	Logger              *slog.Logger
	Metrics             *Metrics
	Now                 func() time.Time
}

// Controller computes and serves rotation states.
type Controller struct {
	config  Config
	counter impression.Counter
	params  tuning.Store
	table   atomic.Pointer[Table]
}

// NewController creates a Controller.
func NewController(config Config, counter impression.Counter, params tuning.Store) *Controller {
	if config.LowerPercentile <= 0 {
		config.LowerPercentile = DefaultLowerPercentile
	}
	if config.LimitedSelectionCap <= 0 || config.LimitedSelectionCap > 1 {
		config.LimitedSelectionCap = DefaultLimitedSelectionCap
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Controller{config: config, counter: counter, params: params}
}

// Penalty returns the density penalty for a rolling count. It grows
// linearly from 0 at threshold to ranking.MaxDensityPenalty at twice the
// threshold.
func Penalty(rolling, threshold int64) float64 {
	if threshold <= 0 || rolling <= threshold {
		return 0
	}
	p := ranking.MaxDensityPenalty * float64(rolling-threshold) / float64(threshold)
	if p > ranking.MaxDensityPenalty {
		return ranking.MaxDensityPenalty
	}
	return p
}

// SelectionCap returns the selection-probability cap for a LIMITED creator.
// The cap tightens to half of base as the penalty reaches its maximum.
func SelectionCap(base, penalty float64) float64 {
	return base * (1 - 0.5*penalty/ranking.MaxDensityPenalty)
}

// Rebuild recomputes the rotation table from the impression counter and
// the current tuning params. creatorIDs adds creators that may have no
// impressions yet so they rank in the percentile distribution.
func (c *Controller) Rebuild(ctx context.Context, creatorIDs []string) (*Table, error) {
	now := c.config.Now()
	totals, err := c.counter.AllTotals(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read impression totals: %w", err)
	}
	params, err := c.params.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning params: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, id := range creatorIDs {
		if _, ok := totals[id]; !ok {
			totals[id] = impression.Totals{}
		}
	}

	counts := make([]int64, 0, len(totals))
	for _, t := range totals {
		counts = append(counts, t.Rolling)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })

	entries := make(map[string]State, len(totals))
	limited, underServed := 0, 0
	for id, t := range totals {
		// Share of creators with strictly fewer impressions.
		below := sort.Search(len(counts), func(i int) bool { return counts[i] >= t.Rolling })
		percentile := 100 * float64(below) / float64(len(counts))

		st := State{
			CreatorID:             id,
			Rotation:              RotationNormal,
			SelectionCap:          1,
			RollingImpressions:    t.Rolling,
			CumulativeImpressions: t.Cumulative,
			Percentile:            percentile,
			UnderServed:           percentile < c.config.LowerPercentile,
		}
		if t.Rolling > params.DensityThreshold {
			st.Rotation = RotationLimited
			st.DensityPenalty = Penalty(t.Rolling, params.DensityThreshold)
			st.SelectionCap = SelectionCap(c.config.LimitedSelectionCap, st.DensityPenalty)
			limited++
		}
		if st.UnderServed {
			underServed++
		}
		entries[id] = st
	}

	var generation int64 = 1
	if prev := c.table.Load(); prev != nil {
		generation = prev.Generation + 1
	}
	table := &Table{
		Generation:      generation,
		BuiltAt:         now,
		Params:          params,
		LowerPercentile: c.config.LowerPercentile,
		entries:         entries,
	}
	c.table.Store(table)

	if c.config.Metrics != nil {
		c.config.Metrics.limited.Set(float64(limited))
		c.config.Metrics.underServed.Set(float64(underServed))
		c.config.Metrics.threshold.Set(float64(params.DensityThreshold))
		c.config.Metrics.rebuilds.Inc()
	}
	c.config.Logger.Info("density table rebuilt",
		"generation", generation,
		"creators", len(entries),
		"limited", limited,
		"under_served", underServed,
		"threshold", params.DensityThreshold)
	return table, nil
}

// Table returns the current table or nil.
func (c *Controller) Table() *Table {
	return c.table.Load()
}

// GetRotationState returns a creator's state from the current table.
func (c *Controller) GetRotationState(creatorID string) State {
	return c.table.Load().Get(creatorID)
}

// Stats returns every creator's state, most exposed first.
func (c *Controller) Stats() []State {
	return c.table.Load().States()
}

// Get returns a creator's state. A nil table or unknown creator yields a
// NORMAL state with no impressions; an unknown creator in a built table is
// under-served.
func (t *Table) Get(creatorID string) State {
	if t == nil {
		return State{CreatorID: creatorID, Rotation: RotationNormal, SelectionCap: 1}
	}
	if st, ok := t.entries[creatorID]; ok {
		return st
	}
	return State{CreatorID: creatorID, Rotation: RotationNormal, SelectionCap: 1, UnderServed: t.LowerPercentile > 0}
}

// States returns all states, most exposed first, ties by creator id.
func (t *Table) States() []State {
	if t == nil {
		return nil
	}
	out := make([]State, 0, len(t.entries))
	for _, st := range t.entries {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RollingImpressions != out[j].RollingImpressions {
			return out[i].RollingImpressions > out[j].RollingImpressions
		}
		return out[i].CreatorID < out[j].CreatorID
	})
	return out
}

// Admit makes the deterministic selection draw for a LIMITED creator. The
// draw is uniform in [0, 1) per (viewer, creator, day), so a creator is
// admitted for at most a limit share of viewers on any day and a viewer sees
// a stable decision across pages.
func Admit(viewerID, creatorID string, day int64, limit float64) bool {
	if limit >= 1 {
		return true
	}
	if limit <= 0 {
		return false
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", viewerID, creatorID, day)))
	draw := float64(binary.BigEndian.Uint64(sum[:8])>>11) / float64(1<<53)
	return draw < limit
}
