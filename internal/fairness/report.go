// Package fairness audits how exposure is distributed across creator
// cohorts and writes corrective tuning parameters when a check fails.
package fairness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/onnwee/discovery/internal/tuning"
)

var (
	// ErrReportNotFound is returned when no report matches.
	ErrReportNotFound = errors.New("fairness report not found")
	// ErrChainBroken is returned by Verify when a report's hash does not match.
	ErrChainBroken = errors.New("fairness report hash chain broken")
	// ErrReportExists is returned when appending a report id twice.
	ErrReportExists = errors.New("fairness report already exists")
)

// Verdict is the overall audit outcome.
type Verdict string

// Verdicts.
const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Check names.
const (
	CheckTopDecileShare   = "top_decile_share"
	CheckNewCreatorShare  = "new_creator_share"
	CheckSpendCorrelation = "spend_correlation"
)

// Action kinds.
const (
	ActionRaiseGuaranteedSlots    = "raise_guaranteed_slots"
	ActionLowerGuaranteedSlots    = "lower_guaranteed_slots"
	ActionTightenDensityThreshold = "tighten_density_threshold"
	ActionRelaxDensityThreshold   = "relax_density_threshold"
)

// Distribution holds the measured exposure distribution.
type Distribution struct {
	Creators            int     `json:"creators"`
	TotalImpressions    int64   `json:"total_impressions"`
	TopDecileShare      float64 `json:"top_decile_share"`
	NewCreators         int     `json:"new_creators"`
	NewCreatorShare     float64 `json:"new_creator_share"`
	SpendCorrelation    float64 `json:"spend_correlation"`
	MeanCompositeNew    float64 `json:"mean_composite_new"`
	MeanCompositeOthers float64 `json:"mean_composite_others"`
	LimitedCreators     int     `json:"limited_creators"`
	UnderServedCreators int     `json:"under_served_creators"`
}

// Check is one metric compared against its threshold.
type Check struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
	Note      string  `json:"note,omitempty"`
}

// Action is one corrective parameter change.
type Action struct {
	Kind   string `json:"kind"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
	Reason string `json:"reason"`
}

// Report is one immutable audit result.
type Report struct {
	ID           string        `json:"id"`
	CreatedAt    time.Time     `json:"created_at"`
	Generation   int64         `json:"generation"`
	Distribution Distribution  `json:"distribution"`
	Checks       []Check       `json:"checks"`
	Verdict      Verdict       `json:"verdict"`
	Actions      []Action      `json:"actions"`
	Params       tuning.Params `json:"params"`
	PreviousHash string        `json:"previous_hash,omitempty"`
	Hash         string        `json:"hash"`
}

// Copy returns a deep copy of r.
func (r *Report) Copy() *Report {
	out := *r
	out.Checks = append([]Check(nil), r.Checks...)
	out.Actions = append([]Action(nil), r.Actions...)
	return &out
}

// computeHash hashes the report body chained to PreviousHash.
func computeHash(r *Report) (string, error) {
	body := *r
	body.Hash = ""
	body.CreatedAt = body.CreatedAt.UTC()
	data, err := json.Marshal(&body)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// seal links r to prev and sets its hash.
func seal(r *Report, prev string) error {
	r.PreviousHash = prev
	h, err := computeHash(r)
	if err != nil {
		return err
	}
	r.Hash = h
	return nil
}

// Verify walks reports oldest first and checks every link of the chain.
func Verify(reports []*Report) error {
	prev := ""
	for _, r := range reports {
		h, err := computeHash(r)
		if err != nil || r.PreviousHash != prev || h != r.Hash {
			return ErrChainBroken
		}
		prev = r.Hash
	}
	return nil
}

// Store persists reports append-only.
type Store interface {
	// Append seals r onto the chain and stores it.
	Append(ctx context.Context, r *Report) error
	// Latest returns the newest report or ErrReportNotFound.
	Latest(ctx context.Context) (*Report, error)
	// Get returns a report by id.
	Get(ctx context.Context, id string) (*Report, error)
	// List returns up to limit reports, newest first (0 = no limit).
	List(ctx context.Context, limit int) ([]*Report, error)
}
