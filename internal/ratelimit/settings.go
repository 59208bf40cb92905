package ratelimit

import (
	"strings"

	"github.com/router-for-me/MealPlanProxy/internal/config"
)

// keySegment separates limiter keys from quota keys under the shared prefix.
const keySegment = "ratelimit"

// SettingsConfig captures the limiter settings.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// SettingsFromConfig derives limiter settings from the service config.
func SettingsFromConfig(cfg config.Config) SettingsConfig {
	out := SettingsConfig{
		Limit:         cfg.RateLimit.RequestsPerSecond,
		RedisEnabled:  cfg.RateLimit.UseRedis,
		RedisAddr:     strings.TrimSpace(cfg.Redis.Addr),
		RedisPassword: strings.TrimSpace(cfg.Redis.Password),
		RedisDB:       cfg.Redis.DB,
	}
	prefix := strings.TrimSpace(cfg.Redis.Prefix)
	if prefix == "" {
		prefix = config.DefaultRedisPrefix
	}
	out.RedisPrefix = prefix + ":" + keySegment
	if out.RedisDB < 0 {
		out.RedisDB = 0
	}
	if out.Limit < 0 {
		out.Limit = 0
	}
	if out.RedisAddr == "" {
		out.RedisEnabled = false
	}
	return out
}
