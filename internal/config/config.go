package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "CONFIG_PATH"

// Quota store backends.
const (
	QuotaBackendDatabase = "database"
	QuotaBackendRedis    = "redis"
	QuotaBackendMemory   = "memory"
)

// Defaults applied when the config omits a value.
const (
	DefaultPort              = 8318
	DefaultMonthlyTokenLimit = 30000
	DefaultWarningThreshold  = 0.8
	DefaultModel             = "gpt-4o-mini"
	DefaultTemperature       = 0.7
	DefaultUpstreamTimeout   = 60 * time.Second
	DefaultUpstreamBaseURL   = "https://api.openai.com/v1"
	DefaultRedisPrefix       = "mealplan"
	DefaultRequestsPerSecond = 5
	DefaultMetricsPath       = "/metrics"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates the database backend was selected without a DSN or SQLite path.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database.dsn`, `database.sqlite-path` or DB_CONNECTION)")

// ErrMissingUpstreamKey indicates no upstream API key was configured.
var ErrMissingUpstreamKey = errors.New("missing upstream api key (set `upstream.api-key` or OPENAI_API_KEY)")

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Auth      AuthConfig      `yaml:"auth"`
	Quota     QuotaConfig     `yaml:"quota"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	TrustedProxies []string `yaml:"trusted-proxies"`
	CORSOrigins    []string `yaml:"cors-origins"`
}

// DatabaseConfig selects the SQL database.
type DatabaseConfig struct {
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite-path"`
}

// RedisConfig holds the shared Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// JWTConfig holds the bearer token verification settings.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Audience string `yaml:"audience"`
}

// AuthConfig controls anonymous access.
type AuthConfig struct {
	RequireUser bool `yaml:"require-user"`
}

// QuotaConfig holds the monthly token quota settings.
type QuotaConfig struct {
	Backend           string  `yaml:"backend"`
	MonthlyTokenLimit int64   `yaml:"monthly-token-limit"`
	WarningThreshold  float64 `yaml:"warning-threshold"`
}

// UpstreamConfig configures the chat completion provider.
type UpstreamConfig struct {
	BaseURL     string        `yaml:"base-url"`
	APIKey      string        `yaml:"api-key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RateLimitConfig configures the per-caller burst limiter.
type RateLimitConfig struct {
	RequestsPerSecond int  `yaml:"requests-per-second"`
	UseRedis          bool `yaml:"use-redis"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// envOverrides lists the environment variables that take precedence over the file.
type envOverrides struct {
	Port              int           `envconfig:"PORT"`
	DBConnection      string        `envconfig:"DB_CONNECTION"`
	SQLitePath        string        `envconfig:"SQLITE_PATH"`
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	JWTSecret         string        `envconfig:"JWT_SECRET"`
	JWTAudience       string        `envconfig:"JWT_AUDIENCE"`
	QuotaBackend      string        `envconfig:"QUOTA_BACKEND"`
	MonthlyTokenLimit int64         `envconfig:"MONTHLY_TOKEN_LIMIT"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel       string        `envconfig:"OPENAI_MODEL"`
	UpstreamTimeout   time.Duration `envconfig:"UPSTREAM_TIMEOUT"`
	LogLevel          string        `envconfig:"LOG_LEVEL"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: DefaultPort},
		Redis:  RedisConfig{Prefix: DefaultRedisPrefix},
		Quota: QuotaConfig{
			Backend:           QuotaBackendDatabase,
			MonthlyTokenLimit: DefaultMonthlyTokenLimit,
			WarningThreshold:  DefaultWarningThreshold,
		},
		Upstream: UpstreamConfig{
			BaseURL:     DefaultUpstreamBaseURL,
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
			Timeout:     DefaultUpstreamTimeout,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: DefaultRequestsPerSecond},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
	}
}

// Load reads the YAML file at configPath when it exists, then applies
// environment overrides and defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	if errEnv := applyEnv(&cfg); errEnv != nil {
		return Config{}, errEnv
	}
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if errProcess := envconfig.Process("", &env); errProcess != nil {
		return fmt.Errorf("parse environment: %w", errProcess)
	}
	if env.Port > 0 {
		cfg.Server.Port = env.Port
	}
	if v := strings.TrimSpace(env.DBConnection); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(env.SQLitePath); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := strings.TrimSpace(env.RedisAddr); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(env.RedisPassword); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(env.JWTSecret); v != "" {
		cfg.JWT.Secret = v
	}
	if v := strings.TrimSpace(env.JWTAudience); v != "" {
		cfg.JWT.Audience = v
	}
	if v := strings.TrimSpace(env.QuotaBackend); v != "" {
		cfg.Quota.Backend = v
	}
	if env.MonthlyTokenLimit > 0 {
		cfg.Quota.MonthlyTokenLimit = env.MonthlyTokenLimit
	}
	if v := strings.TrimSpace(env.OpenAIAPIKey); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := strings.TrimSpace(env.OpenAIBaseURL); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := strings.TrimSpace(env.OpenAIModel); v != "" {
		cfg.Upstream.Model = v
	}
	if env.UpstreamTimeout > 0 {
		cfg.Upstream.Timeout = env.UpstreamTimeout
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func (c *Config) normalize() {
	if c.Server.Port <= 0 {
		c.Server.Port = DefaultPort
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Database.SQLitePath = strings.TrimSpace(c.Database.SQLitePath)
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Redis.Prefix = strings.TrimSpace(c.Redis.Prefix)
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Redis.DB < 0 {
		c.Redis.DB = 0
	}
	c.Quota.Backend = strings.ToLower(strings.TrimSpace(c.Quota.Backend))
	if c.Quota.Backend == "" {
		c.Quota.Backend = QuotaBackendDatabase
	}
	if c.Quota.MonthlyTokenLimit <= 0 {
		c.Quota.MonthlyTokenLimit = DefaultMonthlyTokenLimit
	}
	if c.Quota.WarningThreshold <= 0 || c.Quota.WarningThreshold > 1 {
		c.Quota.WarningThreshold = DefaultWarningThreshold
	}
	c.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(c.Upstream.BaseURL), "/")
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	c.Upstream.Model = strings.TrimSpace(c.Upstream.Model)
	if c.Upstream.Model == "" {
		c.Upstream.Model = DefaultModel
	}
	if c.Upstream.Temperature <= 0 || c.Upstream.Temperature > 2 {
		c.Upstream.Temperature = DefaultTemperature
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		c.RateLimit.RequestsPerSecond = 0
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate reports configuration that prevents the server from starting.
func (c Config) Validate() error {
	switch c.Quota.Backend {
	case QuotaBackendDatabase:
	case QuotaBackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("quota backend redis requires `redis.addr` or REDIS_ADDR")
		}
	case QuotaBackendMemory:
	default:
		return fmt.Errorf("unsupported quota backend: %s", c.Quota.Backend)
	}
	if c.Database.DSN == "" && c.Database.SQLitePath == "" {
		return ErrMissingDatabaseDSN
	}
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return ErrMissingUpstreamKey
	}
	if c.Auth.RequireUser && strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("auth.require-user needs `jwt.secret` or JWT_SECRET")
	}
	return nil
}
