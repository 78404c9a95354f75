package manipulation

import (
	"context"
	"math/bits"

	"github.com/onnwee/discovery/internal/upstream"
)

// VisualConfig tunes the thumbnail heuristics.
type VisualConfig struct {
	// TextCoverageThreshold is the text coverage above which a thumbnail is suspicious.
	TextCoverageThreshold float64
	// SaturationThreshold is the mean saturation above which a thumbnail is suspicious.
	SaturationThreshold float64
	// KnownBaitHashes are perceptual hashes of known bait images.
	KnownBaitHashes []uint64
	// MaxHammingDistance is the largest distance counted as a match.
	MaxHammingDistance int
}

// VisualClassifier scores thumbnail features.
type VisualClassifier struct {
	config VisualConfig
}

// NewVisualClassifier creates a classifier with defaults for zero fields.
func NewVisualClassifier(config VisualConfig) *VisualClassifier {
	if config.TextCoverageThreshold <= 0 {
		config.TextCoverageThreshold = 0.35
	}
	if config.SaturationThreshold <= 0 {
		config.SaturationThreshold = 0.85
	}
	if config.MaxHammingDistance <= 0 {
		config.MaxHammingDistance = 6
	}
	return &VisualClassifier{config: config}
}

// Name implements Classifier.
func (v *VisualClassifier) Name() string { return "visual" }

// Classify implements Classifier.
func (v *VisualClassifier) Classify(_ context.Context, d *upstream.ContentDescriptor) (Classification, error) {
	th := d.Thumbnail
	var signals []signal

	if th.TextCoverage > v.config.TextCoverageThreshold {
		over := (th.TextCoverage - v.config.TextCoverageThreshold) / (1 - v.config.TextCoverageThreshold)
		signals = append(signals, signal{CategoryMisleadingThumbnail, 0.2 + 0.4*over})
	}
	if th.Saturation > v.config.SaturationThreshold {
		signals = append(signals, signal{CategoryMisleadingThumbnail, 0.15})
	}
	if th.ArrowOverlays > 0 {
		strength := 0.25 + 0.1*float64(th.ArrowOverlays-1)
		if strength > 0.5 {
			strength = 0.5
		}
		signals = append(signals, signal{CategoryClickbait, strength})
	}
	if th.FaceCloseup && th.ArrowOverlays > 0 {
		signals = append(signals, signal{CategoryClickbait, 0.1})
	}
	if th.PerceptualHash != 0 {
		for _, h := range v.config.KnownBaitHashes {
			if bits.OnesCount64(th.PerceptualHash^h) <= v.config.MaxHammingDistance {
				signals = append(signals, signal{CategoryKnownBait, 0.8})
				break
			}
		}
	}

	return combineSignals(signals), nil
}
