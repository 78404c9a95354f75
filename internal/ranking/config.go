package ranking

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
)

// weightSumTolerance absorbs float64 rounding in the weight sum check.
const weightSumTolerance = 1e-9

var (
	// ErrWeightSum is returned when the composite weights do not sum to 1.0.
	ErrWeightSum = errors.New("ranking weights must sum to 1.0")
	// ErrNegativeWeight is returned when any composite weight is negative.
	ErrNegativeWeight = errors.New("ranking weights must be non-negative")
	// ErrInvalidBands is returned when confidence bands are not ordered in (0, 1].
	ErrInvalidBands = errors.New("confidence bands must satisfy 0 < flag <= demote <= confirm <= 1")
	// ErrInvalidPenaltyPolicy is returned for an unknown penalty policy.
	ErrInvalidPenaltyPolicy = errors.New("unknown density penalty policy")
	// ErrNoModes is returned when a calibration defines no discovery modes.
	ErrNoModes = errors.New("at least one discovery mode is required")
)

// PenaltyPolicy selects how the density penalty combines with the weighted score.
type PenaltyPolicy string

// Supported penalty policies.
const (
	PenaltySubtractive    PenaltyPolicy = "subtractive"
	PenaltyMultiplicative PenaltyPolicy = "multiplicative"
)

// Weights defines the composite score weights. They must sum to 1.0.
type Weights struct {
	Topical   float64 `json:"topical"`   // default: 0.35
	Language  float64 `json:"language"`  // default: 0.15
	Region    float64 `json:"region"`    // default: 0.10
	Recency   float64 `json:"recency"`   // default: 0.15
	Retention float64 `json:"retention"` // default: 0.15
	Safety    float64 `json:"safety"`    // default: 0.10
}

// Sum returns the total of all six weights.
func (w *Weights) Sum() float64 {
	return w.Topical + w.Language + w.Region + w.Recency + w.Retention + w.Safety
}

// Validate checks that all weights are non-negative and sum to 1.0.
func (w *Weights) Validate() error {
	for _, v := range []float64{w.Topical, w.Language, w.Region, w.Recency, w.Retention, w.Safety} {
		if v < 0 || math.IsNaN(v) {
			return ErrNegativeWeight
		}
	}
	if math.Abs(w.Sum()-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: got %.6f", ErrWeightSum, w.Sum())
	}
	return nil
}

// ConfidenceBands are the manipulation confidence thresholds that drive
// flagging and demotion.
type ConfidenceBands struct {
	Flag    float64 `json:"flag"`    // default: 0.25, creates a NEW flag
	Demote  float64 `json:"demote"`  // default: 0.50, demotes at next recomputation
	Confirm float64 `json:"confirm"` // default: 0.75, auto-confirms and opens a case
}

// Validate checks band ordering.
func (b ConfidenceBands) Validate() error {
	if b.Flag <= 0 || b.Flag > b.Demote || b.Demote > b.Confirm || b.Confirm > 1 {
		return ErrInvalidBands
	}
	return nil
}

// Calibration represents the JSON structure of the calibration file.
type Calibration struct {
	Version       string          `json:"version"`
	Weights       *Weights        `json:"weights"`
	Bands         ConfidenceBands `json:"bands"`
	PenaltyPolicy PenaltyPolicy   `json:"penalty_policy"`
	Modes         []Mode          `json:"modes"`
}

// Validate checks the weights, bands, penalty policy and modes.
func (c *Calibration) Validate() error {
	if c.Weights == nil {
		return ErrWeightSum
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Bands.Validate(); err != nil {
		return err
	}
	switch c.PenaltyPolicy {
	case PenaltySubtractive, PenaltyMultiplicative:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPenaltyPolicy, c.PenaltyPolicy)
	}
	if len(c.Modes) == 0 {
		return ErrNoModes
	}
	return nil
}

// ModeSet returns the calibration's modes as a lookup set.
func (c *Calibration) ModeSet() *ModeSet {
	return NewModeSet(c.Modes)
}

// DefaultWeights returns the default composite weights.
//
// Formula: composite = 0.35·topical + 0.15·language + 0.10·region +
// 0.15·recency + 0.15·retention + 0.10·safety
func DefaultWeights() *Weights {
	return &Weights{
		Topical:   0.35,
		Language:  0.15,
		Region:    0.10,
		Recency:   0.15,
		Retention: 0.15,
		Safety:    0.10,
	}
}

// DefaultBands returns the default manipulation confidence bands.
func DefaultBands() ConfidenceBands {
	return ConfidenceBands{Flag: 0.25, Demote: 0.5, Confirm: 0.75}
}

// DefaultCalibration returns the full default calibration.
func DefaultCalibration() *Calibration {
	return &Calibration{
		Version:       "1",
		Weights:       DefaultWeights(),
		Bands:         DefaultBands(),
		PenaltyPolicy: PenaltySubtractive,
		Modes:         DefaultModes(),
	}
}

// LoadCalibration loads ranking calibration from a JSON file.
// If the file doesn't exist, can't be parsed, or fails validation, the
// defaults are returned together with the error.
// Partial configurations are merged with defaults.
func LoadCalibration(filePath string) (*Calibration, error) {
	if filePath == "" {
		return DefaultCalibration(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var override Calibration
	if err := json.Unmarshal(data, &override); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultCalibration()
	merged := MergeCalibration(defaults, &override)
	if err := merged.Validate(); err != nil {
		slog.Warn("invalid calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("invalid calibration file: %w", err)
	}
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges an override calibration into base.
// A weights block, when present, replaces the base weights as a whole so
// the sum invariant is checked against what the file actually says.
// Non-zero band values, a non-empty policy and a non-empty mode list are
// applied individually.
func MergeCalibration(base *Calibration, override *Calibration) *Calibration {
	if base == nil {
		base = DefaultCalibration()
	}

	result := *base
	if base.Weights != nil {
		w := *base.Weights
		result.Weights = &w
	}
	result.Modes = append([]Mode(nil), base.Modes...)

	if override == nil {
		return &result
	}

	if override.Version != "" {
		result.Version = override.Version
	}
	if override.Weights != nil {
		w := *override.Weights
		result.Weights = &w
	}
	if override.Bands.Flag != 0 {
		result.Bands.Flag = override.Bands.Flag
	}
	if override.Bands.Demote != 0 {
		result.Bands.Demote = override.Bands.Demote
	}
	if override.Bands.Confirm != 0 {
		result.Bands.Confirm = override.Bands.Confirm
	}
	if override.PenaltyPolicy != "" {
		result.PenaltyPolicy = override.PenaltyPolicy
	}
	if len(override.Modes) > 0 {
		result.Modes = append([]Mode(nil), override.Modes...)
	}

	return &result
}

// logCalibrationOverrides logs which values were overridden from defaults.
func logCalibrationOverrides(defaults, loaded *Calibration) {
	var overrides []string

	dw, lw := defaults.Weights, loaded.Weights
	pairs := []struct {
		name string
		d, l float64
	}{
		{"weights.topical", dw.Topical, lw.Topical},
		{"weights.language", dw.Language, lw.Language},
		{"weights.region", dw.Region, lw.Region},
		{"weights.recency", dw.Recency, lw.Recency},
		{"weights.retention", dw.Retention, lw.Retention},
		{"weights.safety", dw.Safety, lw.Safety},
		{"bands.flag", defaults.Bands.Flag, loaded.Bands.Flag},
		{"bands.demote", defaults.Bands.Demote, loaded.Bands.Demote},
		{"bands.confirm", defaults.Bands.Confirm, loaded.Bands.Confirm},
	}
	for _, p := range pairs {
		if p.d != p.l {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", p.name, p.d, p.l))
		}
	}
	if defaults.PenaltyPolicy != loaded.PenaltyPolicy {
		overrides = append(overrides, fmt.Sprintf("penalty_policy: %s -> %s",
			defaults.PenaltyPolicy, loaded.PenaltyPolicy))
	}
	if len(defaults.Modes) != len(loaded.Modes) {
		overrides = append(overrides, fmt.Sprintf("modes: %d -> %d",
			len(defaults.Modes), len(loaded.Modes)))
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
