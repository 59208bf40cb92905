// Package ratelimit throttles bursts of metered requests per caller.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) redis.UniversalClient

// Manager enforces the per-caller limit on Redis when enabled and reachable,
// and on the in-process limiter otherwise.
type Manager struct {
	settings       SettingsConfig
	nowFn          func() time.Time
	memoryLimiter  Limiter
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redisClient    redis.UniversalClient
	redisLimiter   *RedisLimiter
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(settings SettingsConfig, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = func(options *redis.Options) redis.UniversalClient { return redis.NewClient(options) }
	}
	return &Manager{
		settings:       settings,
		nowFn:          nowFn,
		memoryLimiter:  NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// Limit returns the configured requests per second.
func (m *Manager) Limit() int {
	if m == nil {
		return 0
	}
	return m.settings.Limit
}

// Allow checks whether the request should be allowed using the best available backend.
func (m *Manager) Allow(ctx context.Context, key string) (Result, error) {
	if m == nil || m.settings.Limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()
	if m.settings.RedisEnabled {
		if result, ok := m.allowRedis(ctx, key, now); ok {
			return result, nil
		}
	}
	return m.memoryLimiter.Allow(ctx, key, m.settings.Limit, now)
}

// Now returns the manager clock.
func (m *Manager) Now() time.Time {
	if m == nil {
		return time.Now()
	}
	return m.nowFn()
}

// Close releases the Redis client if one was opened.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisClient == nil {
		return nil
	}
	errClose := m.redisClient.Close()
	m.redisClient, m.redisLimiter = nil, nil
	return errClose
}

func (m *Manager) allowRedis(ctx context.Context, key string, now time.Time) (Result, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.isBreakerActive(now) {
		return Result{}, false
	}
	limiter, errEnsure := m.ensureRedis(ctx)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return Result{}, false
	}
	result, errAllow := limiter.Allow(ctx, key, m.settings.Limit, now)
	if errAllow != nil {
		m.tripBreaker(errAllow, now)
		return Result{}, false
	}
	return result, true
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}

func (m *Manager) ensureRedis(ctx context.Context) (*RedisLimiter, error) {
	if m.settings.RedisAddr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisLimiter != nil {
		return m.redisLimiter, nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     m.settings.RedisAddr,
		Password: m.settings.RedisPassword,
		DB:       m.settings.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisClient = client
	m.redisLimiter = NewRedisLimiter(client, m.settings.RedisPrefix)
	return m.redisLimiter, nil
}
