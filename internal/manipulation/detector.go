package manipulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/onnwee/discovery/internal/audit"
	"github.com/onnwee/discovery/internal/ranking"
	"github.com/onnwee/discovery/internal/upstream"
)

// SystemActor is the audit actor for automated transitions.
const SystemActor = "system"

// DetectorConfig configures the Detector.
type DetectorConfig struct {
	Bands ranking.ConfidenceBands
	// RateLimit caps classifications per second. Zero means unlimited.
	RateLimit float64
	Burst     int
	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
	Audit          audit.Repository
	Now            func() time.Time
}

// Assessment is the detector's verdict for one creator, ready for ranking.
type Assessment struct {
	CreatorID string `json:"creator_id"`
	// Confidence is the effective confidence after human review decisions.
	Confidence float64 `json:"confidence"`
	// RawConfidence is the classifier output.
	RawConfidence float64  `json:"raw_confidence"`
	Categories    []string `json:"categories,omitempty"`
	FlagID        string   `json:"flag_id,omitempty"`
	FlagStatus    Status   `json:"flag_status,omitempty"`
	// Degraded is set when classification failed and the verdict failed open.
	Degraded bool `json:"degraded,omitempty"`
}

// Detector classifies creators' content and maintains their flags.
type Detector struct {
	config     DetectorConfig
	classifier Classifier
	content    upstream.ContentSource
	flags      FlagStore
	intake     upstream.ModerationIntake
	breaker    *gobreaker.CircuitBreaker[classified]
	limiter    *rate.Limiter
	retry      *RetryTracker
}

type classified struct {
	descriptor *upstream.ContentDescriptor
	result     Classification
}

// NewDetector creates a Detector.
func NewDetector(config DetectorConfig, classifier Classifier, content upstream.ContentSource, flags FlagStore, intake upstream.ModerationIntake) *Detector {
	if config.Bands == (ranking.ConfidenceBands{}) {
		config.Bands = ranking.DefaultBands()
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	d := &Detector{
		config:     config,
		classifier: classifier,
		content:    content,
		flags:      flags,
		intake:     intake,
		limiter:    rate.NewLimiter(limit, burst),
		retry:      NewRetryTracker(),
	}

	failures := config.BreakerFailures
	d.breaker = gobreaker.NewCircuitBreaker[classified](gobreaker.Settings{
		Name:        "manipulation-detector",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, upstream.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("detector circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
			if config.Metrics != nil {
				config.Metrics.breakerState.Set(float64(to))
			}
		},
	})
	return d
}

// Retry returns the tracker of creators awaiting a retry.
func (d *Detector) Retry() *RetryTracker {
	return d.retry
}

// Bands returns the configured confidence bands.
func (d *Detector) Bands() ranking.ConfidenceBands {
	return d.config.Bands
}

// Assess classifies a creator's current content, updates its flags, and
// returns the effective confidence. It never fails: classifier or content
// errors produce a Degraded assessment and schedule a retry. A degraded
// assessment has confidence 0 unless the creator already holds a CONFIRMED flag.
func (d *Detector) Assess(ctx context.Context, creatorID string) Assessment {
	out := Assessment{CreatorID: creatorID}

	res, err := d.classify(ctx, creatorID)
	if errors.Is(err, upstream.ErrNotFound) {
		d.observeBand(0)
		return out
	}
	if err != nil {
		d.config.Logger.Warn("manipulation detector unavailable, failing open",
			"creator_id", creatorID,
			"error", err)
		d.retry.Add(creatorID)
		if d.config.Metrics != nil {
			d.config.Metrics.failures.Inc()
			d.config.Metrics.retryPending.Set(float64(d.retry.Len()))
		}
		out.Degraded = true
		d.applyHumanVerdicts(ctx, &out, "", "")
		return out
	}

	conf := ranking.Clamp01(res.result.Confidence)
	out.RawConfidence = conf
	out.Confidence = conf
	out.Categories = res.result.Categories
	d.observeBand(conf)

	flag, err := d.recordFlag(ctx, creatorID, res.descriptor, Classification{Confidence: conf, Categories: res.result.Categories})
	if err != nil {
		d.config.Logger.Error("failed to record manipulation flag",
			"creator_id", creatorID,
			"error", err)
	}
	if flag != nil {
		out.FlagID = flag.ID
		out.FlagStatus = flag.Status
	}

	ref := descriptorRef(creatorID, res.descriptor)
	d.applyHumanVerdicts(ctx, &out, ref, res.descriptor.Fingerprint())
	return out
}

func (d *Detector) classify(ctx context.Context, creatorID string) (classified, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return classified{}, fmt.Errorf("rate limiter: %w", err)
	}
	return d.breaker.Execute(func() (classified, error) {
		desc, err := d.content.GetContentDescriptor(ctx, creatorID)
		if err != nil {
			return classified{}, err
		}
		res, err := d.classifier.Classify(ctx, desc)
		if err != nil {
			return classified{}, fmt.Errorf("classifier %s: %w", d.classifier.Name(), err)
		}
		return classified{descriptor: desc, result: res}, nil
	})
}

func descriptorRef(creatorID string, desc *upstream.ContentDescriptor) string {
	if desc.Ref != "" {
		return desc.Ref
	}
	return creatorID
}

// recordFlag applies the confidence bands to the creator's flags and
// returns the flag governing this descriptor, if any.
func (d *Detector) recordFlag(ctx context.Context, creatorID string, desc *upstream.ContentDescriptor, res Classification) (*Flag, error) {
	ref := descriptorRef(creatorID, desc)
	fp := desc.Fingerprint()
	now := d.config.Now().UTC()

	existing, err := d.flags.ListByCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}

	var current *Flag
	for _, f := range existing {
		if f.DescriptorRef == ref {
			current = f
			break
		}
	}

	if current != nil {
		switch {
		case current.Status.Final() && current.Fingerprint == fp:
			return current, d.ensureCase(ctx, current)
		case current.Status == StatusUnderReview:
			return current, nil
		case current.Status == StatusNew:
			if res.Confidence < d.config.Bands.Flag {
				if err := d.flags.Delete(ctx, current.ID); err != nil && !errors.Is(err, ErrFlagNotFound) {
					return nil, fmt.Errorf("failed to retire flag: %w", err)
				}
				d.config.Logger.Info("manipulation flag retired after reclassification",
					"flag_id", current.ID,
					"creator_id", creatorID,
					"confidence", res.Confidence)
				return nil, nil
			}
			if current.Fingerprint == fp && current.Confidence == res.Confidence {
				return current, nil
			}
			current.Fingerprint = fp
			current.Confidence = res.Confidence
			current.Categories = res.Categories
			current.UpdatedAt = now
			if res.Confidence >= d.config.Bands.Confirm {
				return current, d.confirm(ctx, current, res)
			}
			if err := d.flags.Update(ctx, current); err != nil {
				return nil, err
			}
			return current, nil
		}
	}

	if res.Confidence < d.config.Bands.Flag {
		return nil, nil
	}

	flag := &Flag{
		ID:            uuid.New().String(),
		CreatorID:     creatorID,
		DescriptorRef: ref,
		Fingerprint:   fp,
		Confidence:    res.Confidence,
		Categories:    res.Categories,
		Status:        StatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.flags.Create(ctx, flag); err != nil {
		return nil, err
	}
	if res.Confidence >= d.config.Bands.Confirm {
		return flag, d.confirm(ctx, flag, res)
	}
	return flag, nil
}

// confirm auto-transitions a flag to CONFIRMED and opens a moderation case.
func (d *Detector) confirm(ctx context.Context, f *Flag, res Classification) error {
	now := d.config.Now().UTC()
	f.Status = StatusConfirmed
	f.UpdatedAt = now
	f.ResolvedAt = &now
	if err := d.flags.Update(ctx, f); err != nil {
		return err
	}
	if d.config.Audit != nil {
		detail := fmt.Sprintf("confidence=%.3f", res.Confidence)
		if err := audit.LogAction(ctx, d.config.Audit, SystemActor, audit.EntityFlag, f.ID, audit.ActionFlagAutoConfirm, detail); err != nil {
			d.config.Logger.Error("failed to audit flag confirmation", "flag_id", f.ID, "error", err)
		}
	}
	return d.ensureCase(ctx, f)
}

// ensureCase opens a moderation case for a CONFIRMED flag that has none.
// A failed intake call leaves CaseID empty so the next assessment retries.
func (d *Detector) ensureCase(ctx context.Context, f *Flag) error {
	if f.Status != StatusConfirmed || f.CaseID != "" || d.intake == nil {
		return nil
	}
	caseID, err := d.intake.OpenModerationCase(ctx, f.CreatorID, upstream.Evidence{
		FlagID:        f.ID,
		DescriptorRef: f.DescriptorRef,
		Confidence:    f.Confidence,
		Categories:    f.Categories,
		Source:        d.classifier.Name(),
	})
	if err != nil {
		d.config.Logger.Warn("failed to open moderation case, will retry",
			"flag_id", f.ID,
			"creator_id", f.CreatorID,
			"error", err)
		return nil
	}
	f.CaseID = caseID
	f.UpdatedAt = d.config.Now().UTC()
	if d.config.Metrics != nil {
		d.config.Metrics.casesOpened.Inc()
	}
	d.config.Logger.Info("moderation case opened",
		"flag_id", f.ID,
		"creator_id", f.CreatorID,
		"case_id", caseID)
	return d.flags.Update(ctx, f)
}

// applyHumanVerdicts adjusts the effective confidence for reviewer
// decisions. A dismissal clears the confidence of the exact content it
// reviewed; a confirmation holds the confidence at or above the confirm
// band. With an empty ref (degraded) the strongest CONFIRMED flag applies,
// whether a reviewer or automation confirmed it.
func (d *Detector) applyHumanVerdicts(ctx context.Context, out *Assessment, ref, fingerprint string) {
	flags, err := d.flags.ListByCreator(ctx, out.CreatorID)
	if err != nil {
		return
	}
	if ref == "" {
		d.applyConfirmedFlags(out, flags)
		return
	}
	for _, f := range flags {
		if f.DescriptorRef != ref || f.Fingerprint != fingerprint {
			continue
		}
		switch f.Status {
		case StatusDismissed:
			if f.HumanReviewed() {
				out.Confidence = 0
				out.FlagID, out.FlagStatus = f.ID, f.Status
				return
			}
		case StatusConfirmed:
			out.Confidence = math.Max(out.Confidence, d.confirmedFloor(f))
			out.FlagID, out.FlagStatus = f.ID, f.Status
			return
		}
	}
}

// applyConfirmedFlags carries stored CONFIRMED flags through a classifier
// outage. Only the fresh classification fails open.
func (d *Detector) applyConfirmedFlags(out *Assessment, flags []*Flag) {
	for _, f := range flags {
		if f.Status != StatusConfirmed {
			continue
		}
		floor := d.confirmedFloor(f)
		if out.FlagStatus == StatusConfirmed && floor <= out.Confidence {
			continue
		}
		out.Confidence = floor
		out.FlagID, out.FlagStatus = f.ID, f.Status
	}
}

func (d *Detector) confirmedFloor(f *Flag) float64 {
	if f.HumanReviewed() {
		return math.Max(f.Confidence, d.config.Bands.Confirm)
	}
	return f.Confidence
}

func (d *Detector) observeBand(conf float64) {
	if d.config.Metrics == nil {
		return
	}
	band := bandNone
	switch {
	case conf >= d.config.Bands.Confirm:
		band = bandConfirm
	case conf >= d.config.Bands.Demote:
		band = bandDemote
	case conf >= d.config.Bands.Flag:
		band = bandFlag
	}
	d.config.Metrics.classifications.WithLabelValues(band).Inc()
}
