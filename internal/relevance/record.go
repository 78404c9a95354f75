// Package relevance computes creator relevance records and publishes them
// as immutable, generation-numbered snapshots.
//
// Readers call Index.Current once per request and use that snapshot for the
// whole request. Writers build a complete new snapshot off to the side and
// publish it with a single atomic pointer swap, so a reader never observes a
// partially written generation.
package relevance

import (
	"time"

	"github.com/onnwee/discovery/internal/manipulation"
	"github.com/onnwee/discovery/internal/ranking"
)

// RotationState is the manipulation-driven rotation state of a record.
type RotationState string

// Rotation states.
const (
	RotationNormal  RotationState = "NORMAL"
	RotationDemoted RotationState = "DEMOTED"
)

// Record is one creator's computed relevance. Records are immutable once
// published; a new generation replaces them wholesale.
type Record struct {
	CreatorID string          `json:"creator_id" cbor:"creator_id"`
	SubScores ranking.Factors `json:"sub_scores" cbor:"sub_scores"`

	// Inputs kept for per-viewer personalization.
	CategoryMatch map[string]float64 `json:"category_match" cbor:"category_match"`
	Categories    []string           `json:"categories" cbor:"categories"`
	Language      string             `json:"language,omitempty" cbor:"language,omitempty"`
	Region        string             `json:"region,omitempty" cbor:"region,omitempty"`
	LanguageReach map[string]float64 `json:"language_reach,omitempty" cbor:"language_reach,omitempty"`
	RegionReach   map[string]float64 `json:"region_reach,omitempty" cbor:"region_reach,omitempty"`
	CreatorSince  time.Time          `json:"creator_since" cbor:"creator_since"`

	// Weighted is the unscaled ranking value after the manipulation multiplier.
	Weighted float64 `json:"weighted" cbor:"weighted"`
	// Composite is Weighted scaled to [0, 100] for display.
	Composite float64 `json:"composite" cbor:"composite"`

	ManipulationConfidence float64             `json:"manipulation_confidence" cbor:"manipulation_confidence"`
	ManipulationMultiplier float64             `json:"manipulation_multiplier" cbor:"manipulation_multiplier"`
	ManipulationCategories []string            `json:"manipulation_categories,omitempty" cbor:"manipulation_categories,omitempty"`
	FlagStatus             manipulation.Status `json:"flag_status,omitempty" cbor:"flag_status,omitempty"`
	DetectorDegraded       bool                `json:"detector_degraded,omitempty" cbor:"detector_degraded,omitempty"`
	RotationState          RotationState       `json:"rotation_state" cbor:"rotation_state"`

	Generation int64     `json:"generation" cbor:"generation"`
	ComputedAt time.Time `json:"computed_at" cbor:"computed_at"`
}

// Confirmed reports whether the creator carries a CONFIRMED flag at or
// above cutoff confidence.
func (r *Record) Confirmed(cutoff float64) bool {
	return r.FlagStatus == manipulation.StatusConfirmed && r.ManipulationConfidence >= cutoff
}
