// Package feed serves ranked discovery feeds.
//
// A request binds to one relevance snapshot and one rotation table for its
// whole duration. Rankings are computed on the request path from published
// state only; nothing is recomputed synchronously.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/discovery/internal/activity"
	"github.com/onnwee/discovery/internal/density"
	"github.com/onnwee/discovery/internal/impression"
	"github.com/onnwee/discovery/internal/interest"
	"github.com/onnwee/discovery/internal/ranking"
	"github.com/onnwee/discovery/internal/relevance"
	"github.com/onnwee/discovery/internal/tracing"
	"github.com/onnwee/discovery/internal/tuning"
)

// Defaults.
const (
	DefaultLimit           = 20
	MaxLimit               = 100
	DefaultRelevanceFloor  = 0.2
	DefaultExclusionCutoff = 0.9
	DefaultMaxConcurrent   = 64
	DefaultCacheSize       = 10000
	DefaultCacheTTL        = 5 * time.Minute
	explanationFactors     = 3
)

// Request is a feed request.
type Request struct {
	ViewerID  string
	Mode      string
	Cursor    string
	Limit     int
	SessionID string
}

// Explanation describes why an item is where it is.
type Explanation struct {
	Score            float64                `json:"score"`
	Composite        float64                `json:"composite"`
	TopFactors       []ranking.Contribution `json:"top_factors"`
	DensityPenalty   float64                `json:"density_penalty"`
	Rotation         density.Rotation       `json:"rotation"`
	Demoted          bool                   `json:"demoted,omitempty"`
	UnderServed      bool                   `json:"under_served,omitempty"`
	GuaranteedSlot   bool                   `json:"guaranteed_slot,omitempty"`
	Personalized     bool                   `json:"personalized"`
	RecordGeneration int64                  `json:"record_generation"`
}

// Item is one ranked creator.
type Item struct {
	CreatorID   string      `json:"creator_id"`
	Explanation Explanation `json:"explanation"`
}

// Page is one page of a feed.
type Page struct {
	Items      []Item `json:"items"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	Mode       string `json:"mode"`
	Generation int64  `json:"generation"`
	// Stale is set when the page came from the ranking cache under load.
	Stale bool `json:"stale,omitempty"`
}

// ViewSink accepts content views without blocking.
type ViewSink interface {
	Submit(v activity.View) bool
}

// ImpressionSink accepts impression intents without blocking.
type ImpressionSink interface {
	Enqueue(intents ...impression.Intent) int
}

// Config configures the Service.
type Config struct {
	Calibration     *ranking.Calibration
	RelevanceFloor  float64
	ExclusionCutoff float64
	// MaxConcurrent bounds concurrent ranking computations.
	MaxConcurrent int64
	CacheSize     int
	CacheTTL      time.Duration
	Logger        *slog.Logger
	Metrics       *Metrics
	Now           func() time.Time
}

// Service is the ranking orchestrator.
type Service struct {
	config   Config
	modes    *ranking.ModeSet
	index    *relevance.Index
	density  *density.Controller
	profiles interest.Store
	views    ViewSink
	intents  ImpressionSink

	sem      *semaphore.Weighted
	cache    *expirable.LRU[string, *ranked]
	baseline singleflight.Group
}

// ranked is a full ordered ranking for one viewer, mode and generation.
type ranked struct {
	generation int64
	firstPage  int
	items      []Item
}

// NewService creates a Service. views and intents may be nil.
func NewService(config Config, index *relevance.Index, rotation *density.Controller, profiles interest.Store, views ViewSink, intents ImpressionSink) *Service {
	if config.Calibration == nil {
		config.Calibration = ranking.DefaultCalibration()
	}
	if config.RelevanceFloor <= 0 {
		config.RelevanceFloor = DefaultRelevanceFloor
	}
	if config.ExclusionCutoff <= 0 {
		config.ExclusionCutoff = DefaultExclusionCutoff
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		config:   config,
		modes:    config.Calibration.ModeSet(),
		index:    index,
		density:  rotation,
		profiles: profiles,
		views:    views,
		intents:  intents,
		sem:      semaphore.NewWeighted(config.MaxConcurrent),
		cache:    expirable.NewLRU[string, *ranked](config.CacheSize, nil, config.CacheTTL),
	}
}

// Modes returns the supported mode names.
func (s *Service) Modes() []string {
	return s.modes.Names()
}

// GetFeed returns one page of the viewer's feed.
func (s *Service) GetFeed(ctx context.Context, req Request) (page *Page, err error) {
	start := s.config.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "feed.get")
	defer func() {
		endSpan(err)
		s.observe(start, err)
	}()

	limit, cur, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	profile := s.profile(ctx, req.ViewerID)
	mode := req.Mode
	if mode == "" {
		mode = ranking.DefaultMode
		if profile != nil && s.modes.Valid(profile.Mode) {
			mode = profile.Mode
		}
	}
	if !s.modes.Valid(mode) {
		return nil, invalid("mode", "unknown mode %q, supported: %s", mode, strings.Join(s.modes.Names(), ", "))
	}
	tracing.SetAttributes(ctx, tracing.AttrFeedMode.String(mode))

	snap, err := s.index.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, relevance.ErrNoGeneration) {
			s.config.Logger.Error("failed to load relevance checkpoint", "error", err)
		}
		return nil, ErrFeedUnavailable
	}

	now := s.config.Now()
	day := impression.DayBucket(now)

	// A cursor from an older generation continues that ranking while it is
	// cached; otherwise it applies to the current generation.
	generation := snap.Generation
	tracing.SetAttributes(ctx, tracing.AttrGeneration.Int64(generation))
	if cur.generation != 0 {
		if r, ok := s.cache.Get(rankingKey(req.ViewerID, mode, cur.generation, day)); ok {
			return s.paginate(req, mode, r, cur.offset, limit, false, now), nil
		}
	}

	key := rankingKey(req.ViewerID, mode, generation, day)
	if r, ok := s.cache.Get(key); ok && (cur.generation != 0 || r.firstPage == limit) {
		return s.paginate(req, mode, r, cur.offset, limit, false, now), nil
	}

	// A continued page rebuilds with the page-1 size its cursor was issued for.
	firstPage := limit
	if cur.generation != 0 {
		firstPage = cur.firstPage
	}

	if !s.sem.TryAcquire(1) {
		tracing.AddEvent(ctx, "feed.saturated")
		if r, ok := s.latestCached(req.ViewerID, mode, day, generation); ok {
			if s.config.Metrics != nil {
				s.config.Metrics.staleServed.Inc()
			}
			return s.paginate(req, mode, r, cur.offset, limit, true, now), nil
		}
		r, err := s.baselineRanking(snap, mode, day, firstPage)
		if err != nil {
			return nil, err
		}
		return s.paginate(req, mode, r, cur.offset, limit, true, now), nil
	}
	defer s.sem.Release(1)

	r := s.rank(snap, s.density.Table(), profile, req.ViewerID, mode, day, firstPage)
	s.cache.Add(key, r)
	return s.paginate(req, mode, r, cur.offset, limit, false, now), nil
}

// SwitchMode stores the viewer's active discovery mode.
func (s *Service) SwitchMode(ctx context.Context, viewerID, mode string) error {
	if viewerID == "" {
		return invalid("viewer_id", "is required")
	}
	if !s.modes.Valid(mode) {
		return invalid("mode", "unknown mode %q, supported: %s", mode, strings.Join(s.modes.Names(), ", "))
	}
	if err := s.profiles.SetMode(ctx, viewerID, mode, s.config.Now()); err != nil {
		return fmt.Errorf("failed to store mode: %w", err)
	}
	return nil
}

// RecordContentView hands a view to the activity ingestor. It acks even
// when the ingestor drops the view under load.
func (s *Service) RecordContentView(_ context.Context, v activity.View) error {
	if v.ViewerID == "" {
		return invalid("viewer_id", "is required")
	}
	if v.CreatorID == "" {
		return invalid("creator_id", "is required")
	}
	if v.DurationMs < 0 {
		return invalid("duration_ms", "must not be negative")
	}
	if v.At.IsZero() {
		v.At = s.config.Now()
	}
	if s.views != nil && !s.views.Submit(v) {
		s.config.Logger.Warn("content view dropped", "viewer_id", v.ViewerID, "creator_id", v.CreatorID)
	}
	return nil
}

func (s *Service) validate(req Request) (int, cursor, error) {
	if req.ViewerID == "" {
		return 0, cursor{}, invalid("viewer_id", "is required")
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return 0, cursor{}, invalid("limit", "must be between 1 and %d", MaxLimit)
	}
	cur, err := parseCursor(req.Cursor)
	if err != nil {
		return 0, cursor{}, err
	}
	return limit, cur, nil
}

// profile returns the viewer's profile or nil. A store failure degrades to
// an unpersonalized feed.
func (s *Service) profile(ctx context.Context, viewerID string) *interest.Profile {
	p, err := s.profiles.Get(ctx, viewerID)
	if err != nil {
		if !errors.Is(err, interest.ErrProfileNotFound) {
			s.config.Logger.Warn("failed to load interest profile, serving unpersonalized feed",
				"viewer_id", viewerID,
				"error", err)
		}
		return nil
	}
	return p
}

// latestCached returns the newest cached ranking for (viewer, mode) at or
// below generation.
func (s *Service) latestCached(viewerID, mode string, day, generation int64) (*ranked, bool) {
	for g := generation; g > 0 && g > generation-3; g-- {
		if r, ok := s.cache.Peek(rankingKey(viewerID, mode, g, day)); ok {
			return r, true
		}
	}
	return nil, false
}

// baselineRanking is the unpersonalized ranking for a mode, shared by all
// viewers that arrive while the service is saturated.
func (s *Service) baselineRanking(snap *relevance.Snapshot, mode string, day int64, limit int) (*ranked, error) {
	key := rankingKey("", mode, snap.Generation, day)
	if r, ok := s.cache.Get(key); ok {
		return r, nil
	}
	v, err, _ := s.baseline.Do(key, func() (interface{}, error) {
		r := s.rank(snap, s.density.Table(), nil, "", mode, day, limit)
		s.cache.Add(key, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if s.config.Metrics != nil {
		s.config.Metrics.staleServed.Inc()
	}
	return v.(*ranked), nil
}

func (s *Service) paginate(req Request, mode string, r *ranked, offset, limit int, stale bool, now time.Time) *Page {
	page := &Page{Items: []Item{}, Mode: mode, Generation: r.generation, Stale: stale}
	if offset < len(r.items) {
		end := offset + limit
		if end > len(r.items) {
			end = len(r.items)
		}
		page.Items = append(page.Items, r.items[offset:end]...)
		page.HasMore = end < len(r.items)
		if page.HasMore {
			page.NextCursor = cursor{generation: r.generation, offset: end, firstPage: r.firstPage}.encode()
		}
	}

	if s.intents != nil && len(page.Items) > 0 {
		intents := make([]impression.Intent, len(page.Items))
		for i, it := range page.Items {
			intents[i] = impression.Intent{
				CreatorID: it.CreatorID,
				ViewerID:  req.ViewerID,
				SessionID: req.SessionID,
				At:        now,
			}
		}
		s.intents.Enqueue(intents...)
	}
	return page
}

func (s *Service) observe(start time.Time, err error) {
	if s.config.Metrics == nil {
		return
	}
	var verr *ValidationError
	switch {
	case err == nil:
		s.config.Metrics.requests.WithLabelValues(outcomeOK).Inc()
	case errors.As(err, &verr):
		s.config.Metrics.requests.WithLabelValues(outcomeInvalid).Inc()
	default:
		s.config.Metrics.requests.WithLabelValues(outcomeUnavailable).Inc()
	}
	s.config.Metrics.latency.Observe(s.config.Now().Sub(start).Seconds())
}

func rankingKey(viewerID, mode string, generation, day int64) string {
	return fmt.Sprintf("%s|%s|%d|%d", viewerID, mode, generation, day)
}

// candidate is an item being ranked.
type candidate struct {
	item       Item
	score      float64
	cumulative int64
	under      bool
}

// rank builds the full ordered ranking for one viewer. The first page has
// firstPage positions and carries the guaranteed slots.
func (s *Service) rank(snap *relevance.Snapshot, table *density.Table, profile *interest.Profile, viewerID, mode string, day int64, firstPage int) *ranked {
	weights := s.config.Calibration.Weights
	policy := s.config.Calibration.PenaltyPolicy

	params := tuning.Defaults()
	if table != nil {
		params = table.Params
	}

	var cands []candidate
	for _, id := range snap.CreatorIDs() {
		rec, ok := snap.Get(id)
		if !ok || !s.modes.Compatible(mode, rec.Categories) || rec.Confirmed(s.config.ExclusionCutoff) {
			continue
		}
		st := table.Get(id)
		if st.Rotation == density.RotationLimited && !density.Admit(viewerID, id, day, st.SelectionCap) {
			continue
		}

		factors := personalize(rec, profile)
		weighted := ranking.WeightedSum(factors, weights) * rec.ManipulationMultiplier
		score := ranking.ApplyDensityPenalty(weighted, st.DensityPenalty, policy)

		contribs := ranking.Contributions(factors, weights)
		if len(contribs) > explanationFactors {
			contribs = contribs[:explanationFactors]
		}
		cands = append(cands, candidate{
			item: Item{
				CreatorID: id,
				Explanation: Explanation{
					Score:            score,
					Composite:        ranking.ScaleComposite(score),
					TopFactors:       contribs,
					DensityPenalty:   st.DensityPenalty,
					Rotation:         st.Rotation,
					Demoted:          rec.RotationState == relevance.RotationDemoted,
					UnderServed:      st.UnderServed,
					Personalized:     profile != nil,
					RecordGeneration: rec.Generation,
				},
			},
			score:      score,
			cumulative: st.CumulativeImpressions,
			under:      st.UnderServed,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].cumulative != cands[j].cumulative {
			return cands[i].cumulative < cands[j].cumulative
		}
		return cands[i].item.CreatorID < cands[j].item.CreatorID
	})

	cands = s.reserveSlots(cands, params.GuaranteedSlots, firstPage, viewerID, mode)

	items := make([]Item, len(cands))
	for i, c := range cands {
		items[i] = c.item
	}
	return &ranked{generation: snap.Generation, firstPage: firstPage, items: items}
}

// reserveSlots reorders the head of cands so that at least n under-served
// creators appear on the first page. Creators meeting the relevance floor
// are preferred; when too few do, the next-highest under-served creators
// fill the remainder and a shortfall is logged.
func (s *Service) reserveSlots(cands []candidate, n, firstPage int, viewerID, mode string) []candidate {
	if n > firstPage {
		n = firstPage
	}
	if n <= 0 || len(cands) == 0 {
		return cands
	}

	chosen := make(map[int]bool, n)
	qualified := 0
	for i, c := range cands {
		if len(chosen) == n {
			break
		}
		if c.under && c.score >= s.config.RelevanceFloor {
			chosen[i] = true
			qualified++
		}
	}
	if qualified < n {
		for i, c := range cands {
			if len(chosen) == n {
				break
			}
			if c.under && !chosen[i] {
				chosen[i] = true
			}
		}
		s.config.Logger.Warn("fairness shortfall on first page",
			"viewer_id", viewerID,
			"mode", mode,
			"guaranteed_slots", n,
			"qualified", qualified,
			"filled", len(chosen))
		if s.config.Metrics != nil {
			s.config.Metrics.fairnessShortfall.Inc()
		}
	}
	if s.config.Metrics != nil {
		s.config.Metrics.guaranteedSlots.Add(float64(len(chosen)))
	}

	// The first page keeps the top (firstPage - len(chosen)) unchosen
	// candidates plus every chosen one, in score order.
	free := firstPage - len(chosen)
	head := make([]candidate, 0, firstPage)
	tail := make([]candidate, 0, len(cands))
	for i, c := range cands {
		switch {
		case chosen[i]:
			c.item.Explanation.GuaranteedSlot = true
			head = append(head, c)
		case free > 0:
			head = append(head, c)
			free--
		default:
			tail = append(tail, c)
		}
	}
	return append(head, tail...)
}

// personalize replaces the baseline topical and locale sub-scores with
// viewer-specific ones.
func personalize(rec *relevance.Record, profile *interest.Profile) ranking.Factors {
	f := rec.SubScores
	if profile == nil {
		return f
	}
	f.Topical = ranking.TopicalScore(profile.Affinities, rec.CategoryMatch)
	f.Language = ranking.LocaleScore(profile.Language, rec.Language, rec.LanguageReach, rec.SubScores.Language)
	f.Region = ranking.LocaleScore(profile.Region, rec.Region, rec.RegionReach, rec.SubScores.Region)
	return f
}
