package ranking

import (
	"math"
	"sort"
	"time"
)

// Factor names used in explanations.
const (
	FactorTopical   = "topical"
	FactorLanguage  = "language"
	FactorRegion    = "region"
	FactorRecency   = "recency"
	FactorRetention = "retention"
	FactorSafety    = "safety"
)

// MaxDensityPenalty is the largest penalty the density controller may apply.
const MaxDensityPenalty = 0.10

// Retention smoothing prior. Creators with few views are pulled toward the
// prior so a single long view does not dominate.
const (
	RetentionPrior       = 0.5
	RetentionPriorWeight = 5.0
)

// NeutralScore is used for sub-scores that have no data yet.
const NeutralScore = 0.5

// Factors holds the six sub-scores of a candidate, each in [0, 1].
type Factors struct {
	Topical   float64 `json:"topical" cbor:"topical"`
	Language  float64 `json:"language" cbor:"language"`
	Region    float64 `json:"region" cbor:"region"`
	Recency   float64 `json:"recency" cbor:"recency"`
	Retention float64 `json:"retention" cbor:"retention"`
	Safety    float64 `json:"safety" cbor:"safety"`
}

// Clamped returns a copy of f with every sub-score clamped to [0, 1].
func (f Factors) Clamped() Factors {
	return Factors{
		Topical:   Clamp01(f.Topical),
		Language:  Clamp01(f.Language),
		Region:    Clamp01(f.Region),
		Recency:   Clamp01(f.Recency),
		Retention: Clamp01(f.Retention),
		Safety:    Clamp01(f.Safety),
	}
}

// Contribution is one factor's weighted share of a composite score.
type Contribution struct {
	Factor string  `json:"factor"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// Clamp01 clamps v to the [0, 1] range. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// WeightedSum computes the unscaled composite of f using w.
// Sub-scores are clamped before weighting, so the result is in [0, 1]
// for any valid weight set.
//
// Parameters:
//   - f: The candidate's sub-scores
//   - w: The weight configuration (optional, uses default if nil)
func WeightedSum(f Factors, w *Weights) float64 {
	if w == nil {
		w = DefaultWeights()
	}
	c := f.Clamped()

	return c.Topical*w.Topical +
		c.Language*w.Language +
		c.Region*w.Region +
		c.Recency*w.Recency +
		c.Retention*w.Retention +
		c.Safety*w.Safety
}

// Contributions returns each factor's weighted contribution, largest first.
func Contributions(f Factors, w *Weights) []Contribution {
	if w == nil {
		w = DefaultWeights()
	}
	c := f.Clamped()

	out := []Contribution{
		{Factor: FactorTopical, Value: c.Topical, Weight: w.Topical, Score: c.Topical * w.Topical},
		{Factor: FactorLanguage, Value: c.Language, Weight: w.Language, Score: c.Language * w.Language},
		{Factor: FactorRegion, Value: c.Region, Weight: w.Region, Score: c.Region * w.Region},
		{Factor: FactorRecency, Value: c.Recency, Weight: w.Recency, Score: c.Recency * w.Recency},
		{Factor: FactorRetention, Value: c.Retention, Weight: w.Retention, Score: c.Retention * w.Retention},
		{Factor: FactorSafety, Value: c.Safety, Weight: w.Safety, Score: c.Safety * w.Safety},
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ApplyDensityPenalty applies a density penalty to a weighted score
// according to policy. The penalty is clamped to [0, MaxDensityPenalty]
// and the result never drops below 0.
func ApplyDensityPenalty(score, penalty float64, policy PenaltyPolicy) float64 {
	if penalty < 0 || math.IsNaN(penalty) {
		penalty = 0
	}
	if penalty > MaxDensityPenalty {
		penalty = MaxDensityPenalty
	}

	var out float64
	switch policy {
	case PenaltyMultiplicative:
		out = score * (1 - penalty)
	default:
		out = score - penalty
	}
	if out < 0 {
		return 0
	}
	return out
}

// ManipulationMultiplier returns the factor applied to a creator's weighted
// score for a given manipulation confidence.
//
// Confidence at or above ConfirmThreshold scales the score by (1 - confidence).
// Confidence in the demotion band scales it by (1 - confidence/2).
// Anything lower leaves the score unchanged.
func ManipulationMultiplier(confidence float64, bands ConfidenceBands) float64 {
	confidence = Clamp01(confidence)
	switch {
	case confidence >= bands.Confirm:
		return 1 - confidence
	case confidence >= bands.Demote:
		return 1 - confidence*0.5
	default:
		return 1
	}
}

// ScaleComposite maps an unscaled weighted score to the [0, 100] display range.
func ScaleComposite(weighted float64) float64 {
	return Clamp01(weighted) * 100
}

// TopicalScore computes how well a creator's categories match a viewer's
// interests.
//
// Affinities are consumed relative to the viewer's maximum affinity. The
// result is the affinity-weighted mean of the creator's per-category match
// strength. With no usable affinities, the creator's mean match is returned.
func TopicalScore(affinities map[string]float64, categoryMatch map[string]float64) float64 {
	var maxAffinity float64
	for _, a := range affinities {
		if a > maxAffinity {
			maxAffinity = a
		}
	}

	if maxAffinity <= 0 {
		return BaselineTopical(categoryMatch)
	}

	var num, den float64
	for category, a := range affinities {
		if a <= 0 {
			continue
		}
		rel := a / maxAffinity
		num += rel * Clamp01(categoryMatch[category])
		den += rel
	}
	if den == 0 {
		return 0
	}
	return Clamp01(num / den)
}

// BaselineTopical is the topical score used when no viewer profile is known.
func BaselineTopical(categoryMatch map[string]float64) float64 {
	if len(categoryMatch) == 0 {
		return 0
	}
	var sum float64
	for _, m := range categoryMatch {
		sum += Clamp01(m)
	}
	return sum / float64(len(categoryMatch))
}

// LocaleScore scores a language or region match between viewer and creator.
//
// An exact match scores 1. An unknown viewer locale falls back to the
// creator's baseline. Otherwise the score is the share of the creator's
// audience that shares the viewer's locale.
func LocaleScore(viewerLocale, creatorLocale string, reach map[string]float64, baseline float64) float64 {
	if viewerLocale == "" {
		return Clamp01(baseline)
	}
	if creatorLocale == "" || viewerLocale == creatorLocale {
		return 1
	}
	return Clamp01(reach[viewerLocale])
}

// RecencyScore computes an exponential decay score from the time since the
// creator's last activity. The score halves every halfLife.
// Returns 0 for a zero lastActive and 1 for activity at or after now.
func RecencyScore(lastActive, now time.Time, halfLife time.Duration) float64 {
	if lastActive.IsZero() {
		return 0
	}
	if halfLife <= 0 {
		return 1
	}
	age := now.Sub(lastActive)
	if age <= 0 {
		return 1
	}
	return Clamp01(math.Exp(-math.Ln2 * float64(age) / float64(halfLife)))
}

// RetentionScore computes a smoothed mean watch fraction.
//
// Parameters:
//   - watchFractionSum: Sum of per-view watch fractions, each in [0, 1]
//   - views: Number of views contributing to the sum
func RetentionScore(watchFractionSum float64, views int64) float64 {
	if views < 0 {
		views = 0
	}
	num := watchFractionSum + RetentionPrior*RetentionPriorWeight
	den := float64(views) + RetentionPriorWeight
	return Clamp01(num / den)
}

// WatchFraction converts a view duration to a fraction of the target duration.
func WatchFraction(durationMs, targetMs int64) float64 {
	if targetMs <= 0 || durationMs <= 0 {
		return 0
	}
	return Clamp01(float64(durationMs) / float64(targetMs))
}

// SafetyScore converts a manipulation confidence to a safety sub-score.
func SafetyScore(confidence float64) float64 {
	return 1 - Clamp01(confidence)
}
