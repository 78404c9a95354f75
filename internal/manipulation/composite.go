package manipulation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/onnwee/discovery/internal/upstream"
)

// CombineMode selects how CompositeClassifier merges child confidences.
type CombineMode string

// Combine modes.
const (
	CombineMax     CombineMode = "max"
	CombineNoisyOr CombineMode = "noisy_or"
)

// ErrNoClassifiers is returned when a composite has no children.
var ErrNoClassifiers = errors.New("composite classifier has no children")

// CompositeClassifier runs several classifiers and merges their output.
// A child error is tolerated while at least one child succeeds.
type CompositeClassifier struct {
	children []Classifier
	mode     CombineMode
}

// NewCompositeClassifier creates a composite. An empty mode means CombineMax.
func NewCompositeClassifier(mode CombineMode, children ...Classifier) *CompositeClassifier {
	if mode == "" {
		mode = CombineMax
	}
	return &CompositeClassifier{children: children, mode: mode}
}

// Name implements Classifier.
func (c *CompositeClassifier) Name() string { return "composite" }

// Classify implements Classifier.
func (c *CompositeClassifier) Classify(ctx context.Context, d *upstream.ContentDescriptor) (Classification, error) {
	if len(c.children) == 0 {
		return Classification{}, ErrNoClassifiers
	}

	var (
		errs      []error
		succeeded int
		best      float64
		miss      = 1.0
		cats      = make(map[string]bool)
	)
	for _, child := range c.children {
		res, err := child.Classify(ctx, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", child.Name(), err))
			continue
		}
		succeeded++
		if res.Confidence > best {
			best = res.Confidence
		}
		miss *= 1 - res.Confidence
		for _, cat := range res.Categories {
			cats[cat] = true
		}
	}
	if succeeded == 0 {
		return Classification{}, errors.Join(errs...)
	}

	out := Classification{Confidence: best}
	if c.mode == CombineNoisyOr {
		out.Confidence = 1 - miss
	}
	for cat := range cats {
		out.Categories = append(out.Categories, cat)
	}
	sort.Strings(out.Categories)
	return out, nil
}
