package manipulation

import (
	"context"
	"strings"
	"unicode"

	"github.com/onnwee/discovery/internal/upstream"
)

// KeywordRule matches a phrase in title or caption.
type KeywordRule struct {
	Phrase   string
	Category string
	Weight   float64
}

// DefaultKeywordRules are the built-in phrase rules.
func DefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{"you won't believe", CategoryClickbait, 0.45},
		{"gone wrong", CategoryClickbait, 0.35},
		{"not clickbait", CategoryClickbait, 0.5},
		{"shocking", CategoryClickbait, 0.3},
		{"what happens next", CategoryClickbait, 0.4},
		{"like and subscribe", CategoryEngagementBait, 0.3},
		{"comment below", CategoryEngagementBait, 0.25},
		{"tag a friend", CategoryEngagementBait, 0.35},
		{"share if you", CategoryEngagementBait, 0.4},
		{"free giveaway", CategoryFakeGiveaway, 0.5},
		{"free robux", CategoryFakeGiveaway, 0.7},
		{"free vbucks", CategoryFakeGiveaway, 0.7},
		{"click the link", CategoryFakeGiveaway, 0.35},
	}
}

// KeywordClassifier scores text with phrase rules and formatting heuristics.
type KeywordClassifier struct {
	rules       []KeywordRule
	maxHashtags int
}

// NewKeywordClassifier creates a classifier. Nil rules means defaults.
func NewKeywordClassifier(rules []KeywordRule) *KeywordClassifier {
	if rules == nil {
		rules = DefaultKeywordRules()
	}
	normalized := make([]KeywordRule, len(rules))
	for i, r := range rules {
		r.Phrase = strings.ToLower(r.Phrase)
		normalized[i] = r
	}
	return &KeywordClassifier{rules: normalized, maxHashtags: 10}
}

// Name implements Classifier.
func (k *KeywordClassifier) Name() string { return "keyword" }

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(_ context.Context, d *upstream.ContentDescriptor) (Classification, error) {
	text := strings.ToLower(d.Title + "\n" + d.Caption)

	var signals []signal
	for _, r := range k.rules {
		if strings.Contains(text, r.Phrase) {
			signals = append(signals, signal{r.Category, r.Weight})
		}
	}

	if ratio, letters := capsRatio(d.Title); letters >= 12 && ratio >= 0.7 {
		signals = append(signals, signal{CategorySensational, 0.3})
	}
	if strings.Contains(d.Title, "!!!") || strings.Contains(d.Title, "??") {
		signals = append(signals, signal{CategorySensational, 0.15})
	}
	if extra := len(d.Hashtags) - k.maxHashtags; extra > 0 {
		strength := 0.2 + 0.05*float64(extra)
		if strength > 0.6 {
			strength = 0.6
		}
		signals = append(signals, signal{CategoryHashtagStuffing, strength})
	}

	return combineSignals(signals), nil
}

// capsRatio returns the share of uppercase letters and the letter count.
func capsRatio(s string) (float64, int) {
	var letters, upper int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0, 0
	}
	return float64(upper) / float64(letters), letters
}
