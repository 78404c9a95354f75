package relevance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// ErrNoCheckpoint is returned when no checkpoint has been saved.
var ErrNoCheckpoint = errors.New("no relevance checkpoint")

// CheckpointStore persists the encoded latest snapshot for warm restarts.
type CheckpointStore interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// EncodeSnapshot encodes a snapshot as CBOR.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot decodes a CBOR snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.Records == nil {
		s.Records = make(map[string]*Record)
	}
	s.index()
	return &s, nil
}

// MemoryCheckpoint keeps the checkpoint in memory.
type MemoryCheckpoint struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryCheckpoint creates an empty in-memory checkpoint store.
func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{}
}

// Save implements CheckpointStore.
func (m *MemoryCheckpoint) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

// Load implements CheckpointStore.
func (m *MemoryCheckpoint) Load(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ErrNoCheckpoint
	}
	return append([]byte(nil), m.data...), nil
}

// RedisCheckpoint keeps the checkpoint under a single Redis key.
type RedisCheckpoint struct {
	client redis.UniversalClient
	key    string
}

// NewRedisCheckpoint creates a Redis-backed checkpoint store.
func NewRedisCheckpoint(client redis.UniversalClient, prefix string) *RedisCheckpoint {
	if prefix == "" {
		prefix = "discovery"
	}
	return &RedisCheckpoint{client: client, key: prefix + ":relevance:checkpoint"}
}

// Save implements CheckpointStore.
func (r *RedisCheckpoint) Save(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save relevance checkpoint: %w", err)
	}
	return nil
}

// Load implements CheckpointStore.
func (r *RedisCheckpoint) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load relevance checkpoint: %w", err)
	}
	return data, nil
}
