package impression

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/discovery/internal/idempotency"
)

// recordScript checks every seen-set in the window for the key and, only
// if absent, adds it to today's set and increments the day and total
// counters. KEYS[1] is the counts hash, KEYS[2] today's seen set, and
// KEYS[3..] the earlier seen sets in the window.
var recordScript = redis.NewScript(`
local key = ARGV[1]
for i = 2, #KEYS do
	if redis.call('SISMEMBER', KEYS[i], key) == 1 then
		return 0
	end
end
redis.call('SADD', KEYS[2], key)
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[3]))
redis.call('HINCRBY', KEYS[1], 'd:' .. ARGV[2], 1)
redis.call('HINCRBY', KEYS[1], 'total', 1)
return 1
`)

// RedisCounter is a Counter backed by Redis. Per-creator keys share a hash
// tag so the record script touches a single slot.
type RedisCounter struct {
	client     redis.UniversalClient
	prefix     string
	windowDays int
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client redis.UniversalClient, prefix string, windowDays int) *RedisCounter {
	if prefix == "" {
		prefix = "imp"
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &RedisCounter{client: client, prefix: prefix, windowDays: windowDays}
}

func (c *RedisCounter) countsKey(creatorID string) string {
	return fmt.Sprintf("%s:{%s}:counts", c.prefix, creatorID)
}

func (c *RedisCounter) seenKey(creatorID string, day int64) string {
	return fmt.Sprintf("%s:{%s}:seen:%d", c.prefix, creatorID, day)
}

func (c *RedisCounter) indexKey() string {
	return c.prefix + ":creators"
}

// Record counts one impression if key has not been seen in the window.
func (c *RedisCounter) Record(ctx context.Context, creatorID, key string, at time.Time) (bool, error) {
	if creatorID == "" {
		return false, ErrEmptyCreator
	}
	if err := idempotency.ValidateKey(key); err != nil {
		return false, err
	}

	day := DayBucket(at)
	keys := make([]string, 0, c.windowDays+1)
	keys = append(keys, c.countsKey(creatorID))
	for d := day; d > day-int64(c.windowDays); d-- {
		keys = append(keys, c.seenKey(creatorID, d))
	}
	ttl := int64((time.Duration(c.windowDays+1) * 24 * time.Hour).Seconds())

	counted, err := recordScript.Run(ctx, c.client, keys, key, day, ttl).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to record impression: %w", err)
	}
	if counted == 0 {
		return false, nil
	}

	if err := c.client.SAdd(ctx, c.indexKey(), creatorID).Err(); err != nil {
		return true, fmt.Errorf("failed to index creator: %w", err)
	}
	return true, nil
}

// Totals returns the counts for one creator.
func (c *RedisCounter) Totals(ctx context.Context, creatorID string, now time.Time) (Totals, error) {
	fields, err := c.client.HGetAll(ctx, c.countsKey(creatorID)).Result()
	if err != nil {
		return Totals{}, fmt.Errorf("failed to read impression counts: %w", err)
	}
	return c.parseTotals(fields, DayBucket(now)), nil
}

// AllTotals returns counts for every indexed creator using one pipeline.
func (c *RedisCounter) AllTotals(ctx context.Context, now time.Time) (map[string]Totals, error) {
	ids, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, c.countsKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to read impression counts: %w", err)
		}
	}

	today := DayBucket(now)
	out := make(map[string]Totals, len(ids))
	for i, id := range ids {
		out[id] = c.parseTotals(cmds[i].Val(), today)
	}
	return out, nil
}

// Prune removes day fields that have left the window. Seen sets expire on
// their own.
func (c *RedisCounter) Prune(ctx context.Context, now time.Time) (int, error) {
	ids, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list creators: %w", err)
	}

	today := DayBucket(now)
	removed := 0
	for _, id := range ids {
		fields, err := c.client.HKeys(ctx, c.countsKey(id)).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to list buckets for %s: %w", id, err)
		}
		var stale []string
		for _, f := range fields {
			day, ok := parseDayField(f)
			if ok && day <= today-int64(c.windowDays) {
				stale = append(stale, f)
			}
		}
		if len(stale) == 0 {
			continue
		}
		if err := c.client.HDel(ctx, c.countsKey(id), stale...).Err(); err != nil {
			return removed, fmt.Errorf("failed to prune buckets for %s: %w", id, err)
		}
		removed += len(stale)
	}
	return removed, nil
}

func (c *RedisCounter) parseTotals(fields map[string]string, today int64) Totals {
	var t Totals
	for f, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if f == "total" {
			t.Cumulative = n
			continue
		}
		if day, ok := parseDayField(f); ok && inWindow(day, today, c.windowDays) {
			t.Rolling += n
		}
	}
	return t
}

func parseDayField(f string) (int64, bool) {
	if !strings.HasPrefix(f, "d:") {
		return 0, false
	}
	day, err := strconv.ParseInt(f[2:], 10, 64)
	if err != nil {
		return 0, false
	}
	return day, true
}
