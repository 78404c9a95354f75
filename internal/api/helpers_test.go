package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/discovery/internal/activity"
	"github.com/onnwee/discovery/internal/density"
	"github.com/onnwee/discovery/internal/impression"
	"github.com/onnwee/discovery/internal/ranking"
	"github.com/onnwee/discovery/internal/relevance"
	"github.com/onnwee/discovery/internal/tuning"
)

var testNow = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testParams() tuning.Params {
	return tuning.Params{GuaranteedSlots: 3, DensityThreshold: 2_000_000, Version: 1, UpdatedAt: testNow}
}

type recordingViews struct {
	mu    sync.Mutex
	views []activity.View
}

func (r *recordingViews) Submit(v activity.View) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
	return true
}

func (r *recordingViews) all() []activity.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]activity.View(nil), r.views...)
}

type discardIntents struct{}

func (discardIntents) Enqueue(intents ...impression.Intent) int { return len(intents) }

func testRecord(id, category string, score float64) *relevance.Record {
	return &relevance.Record{
		CreatorID:     id,
		CategoryMatch: map[string]float64{category: 1},
		Categories:    []string{category},
		SubScores: ranking.Factors{
			Topical:   score,
			Language:  score,
			Region:    score,
			Recency:   score,
			Retention: score,
			Safety:    score,
		},
		ManipulationMultiplier: 1,
		RotationState:          relevance.RotationNormal,
	}
}

// newTestIndex returns an index holding records as one generation, or an
// empty index when records is empty.
func newTestIndex(t *testing.T, records ...*relevance.Record) *relevance.Index {
	t.Helper()
	index := relevance.NewIndex(nil)
	if len(records) == 0 {
		return index
	}
	computer := relevance.NewComputer(relevance.ComputerConfig{
		Logger: testLogger(),
		Now:    func() time.Time { return testNow },
	}, index, nil, nil, nil)
	batch := make(map[string]*relevance.Record, len(records))
	for _, r := range records {
		batch[r.CreatorID] = r
	}
	if _, err := computer.Publish(context.Background(), batch); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return index
}

// newTestRotation builds a rotation table over counts, keyed by creator id.
func newTestRotation(t *testing.T, counts map[string]int64) *density.Controller {
	t.Helper()
	counter := impression.NewMemoryCounter(impression.DefaultWindowDays)
	ids := make([]string, 0, len(counts))
	for id, n := range counts {
		counter.Seed(id, testNow, n, n)
		ids = append(ids, id)
	}
	rotation := density.NewController(density.Config{
		Logger: testLogger(),
		Now:    func() time.Time { return testNow },
	}, counter, tuning.NewMemoryStore(testParams()))
	if len(ids) > 0 {
		if _, err := rotation.Rebuild(context.Background(), ids); err != nil {
			t.Fatalf("Rebuild() error = %v", err)
		}
	}
	return rotation
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error.Code
}
