// Package manipulation classifies creator content for engagement
// manipulation, maintains the flag lifecycle, and converts classifier
// output into ranking inputs.
//
// Classification is pluggable: any Classifier can be used by the Detector,
// and CompositeClassifier combines several. Detector failures fail open so
// an outage never suppresses content.
package manipulation

import (
	"context"
	"sort"

	"github.com/onnwee/discovery/internal/upstream"
)

// Categories of manipulation.
const (
	CategoryClickbait           = "clickbait"
	CategoryEngagementBait      = "engagement_bait"
	CategoryFakeGiveaway        = "fake_giveaway"
	CategorySensational         = "sensational_formatting"
	CategoryHashtagStuffing     = "hashtag_stuffing"
	CategoryMisleadingThumbnail = "misleading_thumbnail"
	CategoryKnownBait           = "known_bait_image"
)

// Classification is a classifier verdict.
type Classification struct {
	Confidence float64  `json:"confidence"`
	Categories []string `json:"categories"`
}

// Classifier scores a content descriptor for manipulation.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, d *upstream.ContentDescriptor) (Classification, error)
}

// signal is one piece of evidence with a probability-like strength.
type signal struct {
	category string
	strength float64
}

// combineSignals folds independent signals with noisy-OR:
// 1 - prod(1 - s). Categories are deduplicated and sorted.
func combineSignals(signals []signal) Classification {
	miss := 1.0
	seen := make(map[string]bool)
	var cats []string
	for _, s := range signals {
		if s.strength <= 0 {
			continue
		}
		if s.strength > 1 {
			s.strength = 1
		}
		miss *= 1 - s.strength
		if !seen[s.category] {
			seen[s.category] = true
			cats = append(cats, s.category)
		}
	}
	sort.Strings(cats)
	return Classification{Confidence: 1 - miss, Categories: cats}
}
