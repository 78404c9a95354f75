package fairness

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/discovery/internal/audit"
	"github.com/onnwee/discovery/internal/density"
	"github.com/onnwee/discovery/internal/impression"
	"github.com/onnwee/discovery/internal/relevance"
	"github.com/onnwee/discovery/internal/tracing"
	"github.com/onnwee/discovery/internal/tuning"
	"github.com/onnwee/discovery/internal/upstream"
)

// SystemActor is the audit actor for automated tuning changes.
const SystemActor = "fairness-auditor"

// Defaults.
const (
	DefaultMaxTopDecileShare   = 0.5
	DefaultMinNewCreatorShare  = 0.05
	DefaultMaxSpendCorrelation = 0.1
	DefaultNewCreatorAge       = 30 * 24 * time.Hour
	DefaultMaxGuaranteedSlots  = 6
	DefaultMinDensityThreshold = int64(250_000)
	DefaultTightenFactor       = 0.8
)

// minCohort is the smallest creator population whose concentration and
// spend metrics can fail an audit.
const minCohort = 10

// Thresholds are the equity limits checked by each audit.
type Thresholds struct {
	MaxTopDecileShare   float64
	MinNewCreatorShare  float64
	MaxSpendCorrelation float64
	NewCreatorAge       time.Duration
}

// Archiver stores a copy of a report outside the primary store.
type Archiver interface {
	ArchiveReport(ctx context.Context, r *Report) (string, error)
}

// Publisher pushes a report to live subscribers.
type Publisher interface {
	Publish(r *Report)
}

// Config configures the Auditor.
type Config struct {
	Thresholds Thresholds
	// Base is the parameter set relaxation returns to.
	Base                tuning.Params
	MaxGuaranteedSlots  int
	MinDensityThreshold int64
	// TightenFactor scales the density threshold on each tightening step.
	TightenFactor float64

	Logger    *slog.Logger
	Metrics   *Metrics
	Audit     audit.Repository
	Archiver  Archiver
	Publisher Publisher
	Now       func() time.Time
}

// Auditor runs fairness audits.
type Auditor struct {
	config   Config
	counter  impression.Counter
	catalog  upstream.Catalog
	index    *relevance.Index
	rotation *density.Controller
	params   tuning.Store
	store    Store
}

// NewAuditor creates an Auditor. catalog, index and rotation may be nil.
func NewAuditor(config Config, counter impression.Counter, catalog upstream.Catalog, index *relevance.Index, rotation *density.Controller, params tuning.Store, store Store) *Auditor {
	t := &config.Thresholds
	if t.MaxTopDecileShare <= 0 {
		t.MaxTopDecileShare = DefaultMaxTopDecileShare
	}
	if t.MinNewCreatorShare <= 0 {
		t.MinNewCreatorShare = DefaultMinNewCreatorShare
	}
	if t.MaxSpendCorrelation <= 0 {
		t.MaxSpendCorrelation = DefaultMaxSpendCorrelation
	}
	if t.NewCreatorAge <= 0 {
		t.NewCreatorAge = DefaultNewCreatorAge
	}
	if config.Base.Validate() != nil {
		config.Base = tuning.Defaults()
	}
	if config.MaxGuaranteedSlots <= 0 {
		config.MaxGuaranteedSlots = DefaultMaxGuaranteedSlots
	}
	if config.MinDensityThreshold <= 0 {
		config.MinDensityThreshold = DefaultMinDensityThreshold
	}
	if config.TightenFactor <= 0 || config.TightenFactor >= 1 {
		config.TightenFactor = DefaultTightenFactor
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Auditor{
		config:   config,
		counter:  counter,
		catalog:  catalog,
		index:    index,
		rotation: rotation,
		params:   params,
		store:    store,
	}
}

// Latest returns the newest stored report.
func (a *Auditor) Latest(ctx context.Context) (*Report, error) {
	return a.store.Latest(ctx)
}

// cohortMember is one creator's audit inputs.
type cohortMember struct {
	id          string
	impressions int64
	since       time.Time
	spend       float64
	composite   float64
	scored      bool
}

// RunAudit measures the current distribution, writes corrective params on
// a breach (or relaxes them when everything passes) and stores the report.
func (a *Auditor) RunAudit(ctx context.Context) (_ *Report, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "fairness.audit")
	defer func() { endSpan(err) }()
	now := a.config.Now().UTC()

	members, err := a.collect(ctx, now)
	if err != nil {
		return nil, err
	}
	current, err := a.params.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning params: %w", err)
	}

	report := &Report{
		ID:        uuid.New().String(),
		CreatedAt: now,
	}
	if a.index != nil {
		if snap := a.index.Current(); snap != nil {
			report.Generation = snap.Generation
		}
	}
	report.Distribution = a.measure(members, now)
	report.Checks = a.check(report.Distribution)
	report.Verdict = VerdictPass
	for _, c := range report.Checks {
		if !c.Passed {
			report.Verdict = VerdictFail
		}
	}

	next, actions := a.correct(current, report.Checks)
	report.Actions = actions
	report.Params = current
	if len(actions) > 0 {
		next.Reason = fmt.Sprintf("fairness audit %s: %s", report.ID, describe(actions))
		next.UpdatedAt = now
		next.Version = current.Version + 1
		report.Params = next
	}

	// The report is sealed before params change so every correction has a
	// stored report explaining it.
	if err := a.store.Append(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to store fairness report: %w", err)
	}
	if len(actions) > 0 {
		if _, err := a.params.Put(ctx, next); err != nil {
			a.config.Logger.Error("fairness report stored but tuning params not applied",
				"report_id", report.ID,
				"error", err)
			return nil, fmt.Errorf("failed to write tuning params: %w", err)
		}
		a.auditTuning(ctx, report)
	}

	if a.config.Archiver != nil {
		if key, err := a.config.Archiver.ArchiveReport(ctx, report); err != nil {
			a.config.Logger.Warn("failed to archive fairness report", "report_id", report.ID, "error", err)
			if a.config.Metrics != nil {
				a.config.Metrics.archiveFailures.Inc()
			}
		} else {
			a.config.Logger.Debug("fairness report archived", "report_id", report.ID, "key", key)
		}
	}
	if a.config.Publisher != nil {
		a.config.Publisher.Publish(report)
	}
	a.observe(report)

	a.config.Logger.Info("fairness audit completed",
		"report_id", report.ID,
		"verdict", report.Verdict,
		"creators", report.Distribution.Creators,
		"top_decile_share", report.Distribution.TopDecileShare,
		"new_creator_share", report.Distribution.NewCreatorShare,
		"spend_correlation", report.Distribution.SpendCorrelation,
		"actions", len(report.Actions))
	return report.Copy(), nil
}

// collect joins impression totals with catalog metadata and relevance
// records. A catalog failure degrades to snapshot metadata.
func (a *Auditor) collect(ctx context.Context, now time.Time) ([]cohortMember, error) {
	totals, err := a.counter.AllTotals(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read impression totals: %w", err)
	}

	byID := make(map[string]*cohortMember, len(totals))
	get := func(id string) *cohortMember {
		m, ok := byID[id]
		if !ok {
			m = &cohortMember{id: id}
			byID[id] = m
		}
		return m
	}
	for id, t := range totals {
		get(id).impressions = t.Rolling
	}

	if a.index != nil {
		if snap := a.index.Current(); snap != nil {
			for _, id := range snap.CreatorIDs() {
				rec, _ := snap.Get(id)
				m := get(id)
				m.since = rec.CreatorSince
				m.composite = rec.Composite
				m.scored = true
			}
		}
	}

	if a.catalog != nil {
		creators, err := a.catalog.ListCreators(ctx)
		if err != nil {
			a.config.Logger.Warn("creator catalog unavailable, auditing without spend signal", "error", err)
		}
		for _, c := range creators {
			m := get(c.CreatorID)
			if !c.CreatedAt.IsZero() {
				m.since = c.CreatedAt
			}
			m.spend = float64(c.SpendCents)
		}
	}

	out := make([]cohortMember, 0, len(byID))
	for _, m := range byID {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

func (a *Auditor) measure(members []cohortMember, now time.Time) Distribution {
	d := Distribution{Creators: len(members)}
	if len(members) == 0 {
		return d
	}

	counts := make([]int64, len(members))
	spend := make([]float64, len(members))
	exposure := make([]float64, len(members))
	var newImpressions int64
	var newSum, otherSum float64
	var newScored, otherScored int
	cutoff := now.Add(-a.config.Thresholds.NewCreatorAge)

	for i, m := range members {
		counts[i] = m.impressions
		spend[i] = m.spend
		exposure[i] = float64(m.impressions)
		d.TotalImpressions += m.impressions

		isNew := !m.since.IsZero() && m.since.After(cutoff)
		if isNew {
			d.NewCreators++
			newImpressions += m.impressions
		}
		if m.scored {
			if isNew {
				newSum += m.composite
				newScored++
			} else {
				otherSum += m.composite
				otherScored++
			}
		}
	}

	if d.TotalImpressions > 0 {
		sort.Slice(counts, func(i, j int) bool { return counts[i] > counts[j] })
		top := (len(counts) + 9) / 10
		var topSum int64
		for _, c := range counts[:top] {
			topSum += c
		}
		d.TopDecileShare = float64(topSum) / float64(d.TotalImpressions)
		d.NewCreatorShare = float64(newImpressions) / float64(d.TotalImpressions)
	}
	d.SpendCorrelation = Pearson(spend, exposure)
	if newScored > 0 {
		d.MeanCompositeNew = newSum / float64(newScored)
	}
	if otherScored > 0 {
		d.MeanCompositeOthers = otherSum / float64(otherScored)
	}

	if a.rotation != nil {
		for _, st := range a.rotation.Stats() {
			if st.Rotation == density.RotationLimited {
				d.LimitedCreators++
			}
			if st.UnderServed {
				d.UnderServedCreators++
			}
		}
	}
	return d
}

func (a *Auditor) check(d Distribution) []Check {
	t := a.config.Thresholds
	noTraffic := d.TotalImpressions == 0

	top := Check{Name: CheckTopDecileShare, Value: d.TopDecileShare, Threshold: t.MaxTopDecileShare}
	// Below ten creators the top decile is a single creator and the share
	// says nothing about concentration.
	switch {
	case noTraffic:
		top.Passed, top.Note = true, "no impressions in window"
	case d.Creators < minCohort:
		top.Passed, top.Note = true, "fewer than 10 creators"
	default:
		top.Passed = d.TopDecileShare <= t.MaxTopDecileShare
	}

	fresh := Check{Name: CheckNewCreatorShare, Value: d.NewCreatorShare, Threshold: t.MinNewCreatorShare}
	switch {
	case noTraffic:
		fresh.Passed, fresh.Note = true, "no impressions in window"
	case d.NewCreators == 0:
		fresh.Passed, fresh.Note = true, "no new creators"
	default:
		fresh.Passed = d.NewCreatorShare >= t.MinNewCreatorShare
	}

	spend := Check{Name: CheckSpendCorrelation, Value: d.SpendCorrelation, Threshold: t.MaxSpendCorrelation}
	switch {
	case noTraffic:
		spend.Passed, spend.Note = true, "no impressions in window"
	case d.Creators < minCohort:
		spend.Passed, spend.Note = true, "fewer than 10 creators"
	default:
		spend.Passed = math.Abs(d.SpendCorrelation) <= t.MaxSpendCorrelation
	}
	return []Check{top, fresh, spend}
}

// correct returns the next params and the actions that produce them.
// Breaches tighten one step; an all-pass audit relaxes one step toward Base.
func (a *Auditor) correct(current tuning.Params, checks []Check) (tuning.Params, []Action) {
	next := current
	var actions []Action
	failed := make(map[string]bool)
	for _, c := range checks {
		if !c.Passed {
			failed[c.Name] = true
		}
	}

	if len(failed) == 0 {
		base := a.config.Base
		if current.GuaranteedSlots > base.GuaranteedSlots {
			next.GuaranteedSlots = current.GuaranteedSlots - 1
			actions = append(actions, Action{
				Kind: ActionLowerGuaranteedSlots, From: int64(current.GuaranteedSlots), To: int64(next.GuaranteedSlots),
				Reason: "all checks passed",
			})
		}
		if current.DensityThreshold < base.DensityThreshold {
			relaxed := int64(math.Round(float64(current.DensityThreshold) / a.config.TightenFactor))
			if relaxed > base.DensityThreshold {
				relaxed = base.DensityThreshold
			}
			next.DensityThreshold = relaxed
			actions = append(actions, Action{
				Kind: ActionRelaxDensityThreshold, From: current.DensityThreshold, To: relaxed,
				Reason: "all checks passed",
			})
		}
		return next, actions
	}

	if failed[CheckNewCreatorShare] && current.GuaranteedSlots < a.config.MaxGuaranteedSlots {
		next.GuaranteedSlots = current.GuaranteedSlots + 1
		actions = append(actions, Action{
			Kind: ActionRaiseGuaranteedSlots, From: int64(current.GuaranteedSlots), To: int64(next.GuaranteedSlots),
			Reason: CheckNewCreatorShare + " below threshold",
		})
	}
	if (failed[CheckTopDecileShare] || failed[CheckSpendCorrelation]) && current.DensityThreshold > a.config.MinDensityThreshold {
		tightened := int64(math.Round(float64(current.DensityThreshold) * a.config.TightenFactor))
		if tightened < a.config.MinDensityThreshold {
			tightened = a.config.MinDensityThreshold
		}
		reason := CheckTopDecileShare + " above threshold"
		if !failed[CheckTopDecileShare] {
			reason = CheckSpendCorrelation + " outside band"
		}
		next.DensityThreshold = tightened
		actions = append(actions, Action{
			Kind: ActionTightenDensityThreshold, From: current.DensityThreshold, To: tightened,
			Reason: reason,
		})
	}
	return next, actions
}

func (a *Auditor) auditTuning(ctx context.Context, r *Report) {
	if a.config.Audit == nil {
		return
	}
	action := audit.ActionTuningCorrect
	if r.Verdict == VerdictPass {
		action = audit.ActionTuningRelax
	}
	if err := audit.LogAction(ctx, a.config.Audit, SystemActor, audit.EntityTuning, r.ID, action, describe(r.Actions)); err != nil {
		a.config.Logger.Error("failed to audit tuning change", "report_id", r.ID, "error", err)
	}
}

func (a *Auditor) observe(r *Report) {
	m := a.config.Metrics
	if m == nil {
		return
	}
	m.audits.WithLabelValues(string(r.Verdict)).Inc()
	m.topDecileShare.Set(r.Distribution.TopDecileShare)
	m.newCreatorShare.Set(r.Distribution.NewCreatorShare)
	m.spendCorrelation.Set(r.Distribution.SpendCorrelation)
	for _, act := range r.Actions {
		m.actions.WithLabelValues(act.Kind).Inc()
	}
}

func describe(actions []Action) string {
	parts := make([]string, len(actions))
	for i, act := range actions {
		parts[i] = fmt.Sprintf("%s %d->%d", act.Kind, act.From, act.To)
	}
	return strings.Join(parts, ", ")
}

// Pearson returns the Pearson correlation of xs and ys. It returns 0 when
// either series is constant or the lengths differ.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0
	}
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
