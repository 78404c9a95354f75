package ranking

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr error
	}{
		{
			name:    "defaults",
			weights: *DefaultWeights(),
		},
		{
			name:    "rebalanced",
			weights: Weights{Topical: 0.5, Language: 0.1, Region: 0.1, Recency: 0.1, Retention: 0.1, Safety: 0.1},
		},
		{
			name:    "sum too high",
			weights: Weights{Topical: 0.5, Language: 0.15, Region: 0.10, Recency: 0.15, Retention: 0.15, Safety: 0.10},
			wantErr: ErrWeightSum,
		},
		{
			name:    "negative",
			weights: Weights{Topical: 1.1, Language: -0.1},
			wantErr: ErrNegativeWeight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadCalibration_EmptyPath(t *testing.T) {
	cal, err := LoadCalibration("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cal.Validate(); err != nil {
		t.Fatalf("default calibration invalid: %v", err)
	}
	if cal.PenaltyPolicy != PenaltySubtractive {
		t.Errorf("expected subtractive default, got %s", cal.PenaltyPolicy)
	}
}

func TestLoadCalibration_DefaultFile(t *testing.T) {
	configPath := filepath.Join("..", "..", "configs", "ranking.calibration.json")
	if _, err := os.Stat(configPath); err != nil {
		t.Skip("default calibration file not present")
	}

	cal, err := LoadCalibration(configPath)
	if err != nil {
		t.Fatalf("expected no error loading default calibration file, got: %v", err)
	}
	if *cal.Weights != *DefaultWeights() {
		t.Errorf("loaded weights don't match defaults: %+v", cal.Weights)
	}
}

func TestLoadCalibration_MissingFile(t *testing.T) {
	cal, err := LoadCalibration(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cal == nil || *cal.Weights != *DefaultWeights() {
		t.Error("expected default calibration on error")
	}
}

func TestLoadCalibration_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	cal, err := LoadCalibration(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if *cal.Weights != *DefaultWeights() {
		t.Error("expected default weights on parse error")
	}
}

func TestLoadCalibration_RejectsBadWeightSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sum.json")
	body := `{"weights": {"topical": 0.9, "language": 0.15, "region": 0.10, "recency": 0.15, "retention": 0.15, "safety": 0.10}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cal, err := LoadCalibration(path)
	if !errors.Is(err, ErrWeightSum) {
		t.Fatalf("expected ErrWeightSum, got %v", err)
	}
	if *cal.Weights != *DefaultWeights() {
		t.Error("expected default weights when the file's weights are invalid")
	}
}

func TestLoadCalibration_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	body := `{
		"penalty_policy": "multiplicative",
		"bands": {"confirm": 0.8},
		"modes": [{"name": "discover"}, {"name": "music", "categories": ["music"]}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cal, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cal.PenaltyPolicy != PenaltyMultiplicative {
		t.Errorf("expected multiplicative policy, got %s", cal.PenaltyPolicy)
	}
	if cal.Bands.Confirm != 0.8 || cal.Bands.Flag != 0.25 {
		t.Errorf("unexpected bands: %+v", cal.Bands)
	}
	if *cal.Weights != *DefaultWeights() {
		t.Errorf("expected default weights, got %+v", cal.Weights)
	}
	if len(cal.Modes) != 2 {
		t.Errorf("expected 2 modes, got %d", len(cal.Modes))
	}
}

func TestLoadCalibration_RejectsUnknownPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(`{"penalty_policy": "exponential"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCalibration(path); !errors.Is(err, ErrInvalidPenaltyPolicy) {
		t.Fatalf("expected ErrInvalidPenaltyPolicy, got %v", err)
	}
}

func TestMergeCalibration_DoesNotAliasBase(t *testing.T) {
	base := DefaultCalibration()
	merged := MergeCalibration(base, nil)
	merged.Weights.Topical = 0
	merged.Modes[0].Name = "changed"

	if base.Weights.Topical != 0.35 {
		t.Error("merge aliased base weights")
	}
	if base.Modes[0].Name != DefaultMode {
		t.Error("merge aliased base modes")
	}
}

func TestModeSet(t *testing.T) {
	set := NewModeSet(DefaultModes())

	if !set.Valid("discover") || !set.Valid("music") {
		t.Fatal("expected built-in modes to be valid")
	}
	if set.Valid("unknown-mode") {
		t.Error("expected unknown mode to be invalid")
	}
	if !set.Compatible("discover", []string{"anything"}) {
		t.Error("discover should accept every creator")
	}
	if !set.Compatible("music", []string{"art", "dj"}) {
		t.Error("music should accept a dj creator")
	}
	if set.Compatible("music", []string{"gaming"}) {
		t.Error("music should reject a gaming-only creator")
	}
	if set.Compatible("unknown-mode", []string{"music"}) {
		t.Error("unknown mode should never be compatible")
	}

	names := set.Names()
	for i := 1; i < len(names); i++ {
		if names[i] < names[i-1] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
