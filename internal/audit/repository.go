package audit

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrChainBroken is returned by Verify when an entry's hash does not match.
var ErrChainBroken = errors.New("audit hash chain broken")

// Repository defines the interface for audit log operations.
type Repository interface {
	// Log appends an entry and returns the stored record.
	Log(entry LogEntry) (*AuditLog, error)

	// QueryByEntity retrieves logs for an entity, newest first.
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByEntity(entityType, entityID string, limit int) ([]*AuditLog, error)

	// QueryByActor retrieves logs written by an actor, newest first.
	QueryByActor(actorID string, limit int) ([]*AuditLog, error)

	// All returns every entry in insertion order.
	All() ([]*AuditLog, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu    sync.RWMutex
	logs  map[string]*AuditLog
	order []string
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		logs:  make(map[string]*AuditLog),
		order: make([]string, 0),
		now:   time.Now,
	}
}

// Log appends an entry, linking it to the previous entry's hash.
func (r *InMemoryRepository) Log(entry LogEntry) (*AuditLog, error) {
	if err := validateLogEntry(entry.EntityType, entry.EntityID, entry.Action); err != nil {
		return nil, err
	}
	outcome := entry.Outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}

	log := &AuditLog{
		ID:         uuid.New().String(),
		ActorID:    entry.ActorID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Outcome:    outcome,
		Detail:     entry.Detail,
		CreatedAt:  r.now().UTC(),
		RequestID:  entry.RequestID,
	}

	r.mu.Lock()
	if n := len(r.order); n > 0 {
		log.PreviousHash = r.logs[r.order[n-1]].Hash
	}
	log.Hash = computeHash(log)
	r.logs[log.ID] = log
	r.order = append(r.order, log.ID)
	r.mu.Unlock()

	logCopy := *log
	return &logCopy, nil
}

// QueryByEntity retrieves logs for an entity, newest first.
func (r *InMemoryRepository) QueryByEntity(entityType, entityID string, limit int) ([]*AuditLog, error) {
	return r.query(func(l *AuditLog) bool {
		return l.EntityType == entityType && l.EntityID == entityID
	}, limit), nil
}

// QueryByActor retrieves logs written by an actor, newest first.
func (r *InMemoryRepository) QueryByActor(actorID string, limit int) ([]*AuditLog, error) {
	return r.query(func(l *AuditLog) bool { return l.ActorID == actorID }, limit), nil
}

func (r *InMemoryRepository) query(match func(*AuditLog) bool, limit int) []*AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*AuditLog
	for i := len(r.order) - 1; i >= 0; i-- {
		log := r.logs[r.order[i]]
		if !match(log) {
			continue
		}
		logCopy := *log
		results = append(results, &logCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// All returns every entry in insertion order.
func (r *InMemoryRepository) All() ([]*AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AuditLog, 0, len(r.order))
	for _, id := range r.order {
		logCopy := *r.logs[id]
		out = append(out, &logCopy)
	}
	return out, nil
}

// Verify walks logs in insertion order and checks every link of the chain.
func Verify(logs []*AuditLog) error {
	prev := ""
	for _, l := range logs {
		if l.PreviousHash != prev || computeHash(l) != l.Hash {
			return ErrChainBroken
		}
		prev = l.Hash
	}
	return nil
}
