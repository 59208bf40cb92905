package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisRecordTTL keeps a period hash well past the end of its month.
const redisRecordTTL = 400 * 24 * time.Hour

// getOrCreateScript seeds the period hash when missing and returns it.
// KEYS[1] = period hash key
// ARGV[1] = now (unix milliseconds)
// ARGV[2] = ttl (seconds)
var getOrCreateScript = redis.NewScript(`
redis.call("HSETNX", KEYS[1], "tokens_used", 0)
if redis.call("HSETNX", KEYS[1], "last_reset", ARGV[1]) == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return redis.call("HMGET", KEYS[1], "tokens_used", "last_reset", "last_updated")
`)

// incrementScript adds to tokens_used, seeding the hash when missing.
// KEYS[1] = period hash key
// ARGV[1] = amount
// ARGV[2] = now (unix milliseconds)
// ARGV[3] = ttl (seconds)
var incrementScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], "last_reset", ARGV[2]) == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[3])
end
redis.call("HINCRBY", KEYS[1], "tokens_used", ARGV[1])
redis.call("HSET", KEYS[1], "last_updated", ARGV[2])
return redis.call("HMGET", KEYS[1], "tokens_used", "last_reset", "last_updated")
`)

// RedisStore keeps one hash per (user, month, year) and mutates it with Lua
// scripts so increments stay atomic across instances.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore constructs a RedisStore. An empty prefix defaults to "mealplan".
func NewRedisStore(client redis.Cmdable, prefix string, now func() time.Time) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mealplan"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

// GetCurrentUsage returns the current period record, creating it if absent.
func (s *RedisStore) GetCurrentUsage(ctx context.Context, userID string) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrEmptyUser
	}
	now := s.now().UTC()
	period := PeriodOf(now)
	res, errRun := getOrCreateScript.Run(ctx, s.client,
		[]string{s.key(userID, period)},
		now.UnixMilli(), int64(redisRecordTTL/time.Second),
	).Slice()
	if errRun != nil {
		return Record{}, storageError("get current usage", errRun)
	}
	rec, errParse := parseRedisRecord(userID, period, res)
	if errParse != nil {
		return Record{}, storageError("get current usage", errParse)
	}
	return rec, nil
}

// IncrementUsage adds amount to the current period.
func (s *RedisStore) IncrementUsage(ctx context.Context, userID string, amount int64) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrEmptyUser
	}
	if amount < 0 {
		return Record{}, ErrNegativeAmount
	}
	now := s.now().UTC()
	period := PeriodOf(now)
	res, errRun := incrementScript.Run(ctx, s.client,
		[]string{s.key(userID, period)},
		amount, now.UnixMilli(), int64(redisRecordTTL/time.Second),
	).Slice()
	if errRun != nil {
		return Record{}, storageError("increment usage", errRun)
	}
	rec, errParse := parseRedisRecord(userID, period, res)
	if errParse != nil {
		return Record{}, storageError("increment usage", errParse)
	}
	return rec, nil
}

func (s *RedisStore) key(userID string, period Period) string {
	return fmt.Sprintf("%s:usage:%s:%d:%02d", s.prefix, userID, period.Year, period.Month)
}

func parseRedisRecord(userID string, period Period, values []any) (Record, error) {
	if len(values) != 3 {
		return Record{}, fmt.Errorf("unexpected reply length %d", len(values))
	}
	used, errUsed := redisInt(values[0])
	if errUsed != nil {
		return Record{}, fmt.Errorf("tokens_used: %w", errUsed)
	}
	lastReset, errReset := redisInt(values[1])
	if errReset != nil {
		return Record{}, fmt.Errorf("last_reset: %w", errReset)
	}
	rec := Record{
		UserID:     userID,
		Period:     period,
		TokensUsed: used,
		LastReset:  time.UnixMilli(lastReset).UTC(),
	}
	if values[2] != nil {
		lastUpdated, errUpdated := redisInt(values[2])
		if errUpdated != nil {
			return Record{}, fmt.Errorf("last_updated: %w", errUpdated)
		}
		rec.LastUpdated = time.UnixMilli(lastUpdated).UTC()
	}
	return rec, nil
}

func redisInt(v any) (int64, error) {
	switch val := v.(type) {
	case string:
		return strconv.ParseInt(val, 10, 64)
	case int64:
		return val, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
