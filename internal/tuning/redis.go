package tuning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore stores params as JSON under a single key. Versions are
// assigned from a separate counter so concurrent writers never reuse one.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	base   Params
}

// NewRedisStore creates a store. base is returned until params are written.
func NewRedisStore(client redis.UniversalClient, prefix string, base Params) *RedisStore {
	if prefix == "" {
		prefix = "discovery"
	}
	return &RedisStore{client: client, key: prefix + ":tuning:params", base: base}
}

// Current implements Store.
func (s *RedisStore) Current(ctx context.Context) (Params, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.base, nil
	}
	if err != nil {
		return Params{}, fmt.Errorf("failed to read tuning params: %w", err)
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("failed to decode tuning params: %w", err)
	}
	return p, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, p Params) (Params, error) {
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	version, err := s.client.Incr(ctx, s.key+":version").Result()
	if err != nil {
		return Params{}, fmt.Errorf("failed to assign tuning version: %w", err)
	}
	p.Version = version
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Params{}, fmt.Errorf("failed to encode tuning params: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return Params{}, fmt.Errorf("failed to write tuning params: %w", err)
	}
	return p, nil
}
