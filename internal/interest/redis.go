package interest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldMode      = "mode"
	fieldLanguage  = "lang"
	fieldRegion    = "region"
	fieldUpdatedAt = "updated"
	affinityPrefix = "a:"
)

// RedisStore keeps each profile in one Redis hash. Affinity updates use
// HINCRBYFLOAT so concurrent views never lose an increment.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed profile store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "profile"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(viewerID string) string {
	return s.prefix + ":" + viewerID
}

// Get reads a profile hash.
func (s *RedisStore) Get(ctx context.Context, viewerID string) (*Profile, error) {
	fields, err := s.client.HGetAll(ctx, s.key(viewerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrProfileNotFound
	}

	p := &Profile{ViewerID: viewerID, Affinities: make(map[string]float64)}
	for f, v := range fields {
		switch {
		case f == fieldMode:
			p.Mode = v
		case f == fieldLanguage:
			p.Language = v
		case f == fieldRegion:
			p.Region = v
		case f == fieldUpdatedAt:
			if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
				p.UpdatedAt = time.Unix(0, ts).UTC()
			}
		case strings.HasPrefix(f, affinityPrefix):
			if w, err := strconv.ParseFloat(v, 64); err == nil {
				p.Affinities[strings.TrimPrefix(f, affinityPrefix)] = w
			}
		}
	}
	return p, nil
}

// AddAffinity increments a category affinity.
func (s *RedisStore) AddAffinity(ctx context.Context, viewerID, category string, weight float64, at time.Time) error {
	if viewerID == "" {
		return ErrEmptyViewer
	}
	if category == "" || weight <= 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HIncrByFloat(ctx, s.key(viewerID), affinityPrefix+category, weight)
	pipe.HSet(ctx, s.key(viewerID), fieldUpdatedAt, at.UnixNano())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update affinity: %w", err)
	}
	return nil
}

// SetMode stores the active mode.
func (s *RedisStore) SetMode(ctx context.Context, viewerID, mode string, at time.Time) error {
	if viewerID == "" {
		return ErrEmptyViewer
	}
	if err := s.client.HSet(ctx, s.key(viewerID), fieldMode, mode, fieldUpdatedAt, at.UnixNano()).Err(); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

// SetLocale stores language and region.
func (s *RedisStore) SetLocale(ctx context.Context, viewerID, language, region string, at time.Time) error {
	if viewerID == "" {
		return ErrEmptyViewer
	}
	values := []interface{}{}
	if language != "" {
		values = append(values, fieldLanguage, language)
	}
	if region != "" {
		values = append(values, fieldRegion, region)
	}
	if len(values) == 0 {
		return nil
	}
	values = append(values, fieldUpdatedAt, at.UnixNano())
	if err := s.client.HSet(ctx, s.key(viewerID), values...).Err(); err != nil {
		return fmt.Errorf("failed to set locale: %w", err)
	}
	return nil
}

// Erase deletes the profile hash.
func (s *RedisStore) Erase(ctx context.Context, viewerID string) error {
	if err := s.client.Del(ctx, s.key(viewerID)).Err(); err != nil {
		return fmt.Errorf("failed to erase profile: %w", err)
	}
	return nil
}
