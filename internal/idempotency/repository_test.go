package idempotency

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInMemoryRepository_StoreAndGet(t *testing.T) {
	repo := NewInMemoryRepository()

	if _, err := repo.Get("missing"); err != ErrKeyNotFound {
		t.Errorf("Get() error = %v, want %v", err, ErrKeyNotFound)
	}

	if err := repo.Store(&Record{Key: "k1", Scope: ScopeView}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := repo.Get("k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Scope != ScopeView {
		t.Errorf("Scope = %q, want %q", got.Scope, ScopeView)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	if err := repo.Store(&Record{Key: "k1"}); err != ErrKeyExists {
		t.Errorf("duplicate Store() error = %v, want %v", err, ErrKeyExists)
	}
	if err := repo.Store(&Record{Key: ""}); err != ErrInvalidKey {
		t.Errorf("empty Store() error = %v, want %v", err, ErrInvalidKey)
	}
}

func TestInMemoryRepository_ConcurrentStoreOnlyOneWins(t *testing.T) {
	repo := NewInMemoryRepository()

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Store(&Record{Key: "same"}); err == nil {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful store, got %d", wins)
	}
}

func TestSweep(t *testing.T) {
	repo := NewInMemoryRepository()

	if err := repo.Store(&Record{Key: "old", CreatedAt: time.Now().Add(-25 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Store(&Record{Key: "recent", CreatedAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	report, err := Sweep(repo, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Deleted != 1 || report.OlderThan != DefaultExpiry {
		t.Errorf("report = %+v, want 1 deleted older than %v", report, DefaultExpiry)
	}
	if _, err := repo.Get("recent"); err != nil {
		t.Error("recent key should survive cleanup")
	}
	if repo.Len() != 1 {
		t.Errorf("Len() = %d, want 1", repo.Len())
	}
}
