package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/MealPlanProxy/internal/config"
	"github.com/router-for-me/MealPlanProxy/internal/db"
	"github.com/router-for-me/MealPlanProxy/internal/http/api/admin"
	"github.com/router-for-me/MealPlanProxy/internal/http/api/front"
	"github.com/router-for-me/MealPlanProxy/internal/identity"
	"github.com/router-for-me/MealPlanProxy/internal/metering"
	"github.com/router-for-me/MealPlanProxy/internal/metrics"
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	"github.com/router-for-me/MealPlanProxy/internal/ratelimit"
	"github.com/router-for-me/MealPlanProxy/internal/upstream"
	"github.com/router-for-me/MealPlanProxy/internal/usage"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// corsAllowedHeaders are the request headers browser callers send.
var corsAllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type", front.HeaderRequestID}

// Service is the assembled HTTP service.
type Service struct {
	cfg     config.Config
	conn    *gorm.DB
	engine  *gin.Engine
	handler http.Handler
	ledger  *usage.GormLedger
	limiter *ratelimit.Manager
	redis   redis.UniversalClient
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	provider upstream.Provider
	now      func() time.Time
}

// WithProvider replaces the OpenAI provider.
func WithProvider(p upstream.Provider) Option {
	return func(o *buildOptions) { o.provider = p }
}

// WithClock overrides time.Now for the quota store and proxy.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) { o.now = now }
}

// DatabaseDSN returns the configured DSN, building a SQLite DSN from the
// sqlite path when no DSN is set.
func DatabaseDSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return db.SQLiteDSN(cfg.SQLitePath)
}

// Migrate opens the database and runs migrations.
func Migrate(cfg config.Config) error {
	conn, err := db.Open(DatabaseDSN(cfg.Database))
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// Build opens storage, constructs the metering pipeline and registers routes.
func Build(cfg config.Config, opts ...Option) (*Service, error) {
	o := buildOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	conn, err := openDB(DatabaseDSN(cfg.Database))
	if err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, conn: conn, ledger: usage.NewGormLedger(conn)}
	built := false
	defer func() {
		if !built {
			s.release()
		}
	}()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}

	store, errStore := s.quotaStore(o.now)
	if errStore != nil {
		return nil, errStore
	}
	provider := o.provider
	if provider == nil {
		provider = upstream.NewOpenAIProvider(cfg.Upstream, nil)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	proxy, errProxy := metering.New(metering.Config{
		MonthlyTokenLimit: cfg.Quota.MonthlyTokenLimit,
		WarningThreshold:  cfg.Quota.WarningThreshold,
		Model:             cfg.Upstream.Model,
		Temperature:       cfg.Upstream.Temperature,
		UpstreamTimeout:   cfg.Upstream.Timeout,
	}, store, provider,
		metering.WithLedger(s.ledger),
		metering.WithMetrics(m),
		metering.WithClock(o.now),
	)
	if errProxy != nil {
		return nil, errProxy
	}

	s.limiter = ratelimit.NewManager(ratelimit.SettingsFromConfig(cfg), o.now, nil)
	resolver := identity.NewResolver(cfg.JWT, cfg.Auth.RequireUser)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	if errProxies := engine.SetTrustedProxies(cfg.Server.TrustedProxies); errProxies != nil {
		return nil, fmt.Errorf("app: trusted proxies: %w", errProxies)
	}
	engine.Use(gin.Recovery(), front.RequestIDMiddleware(), requestLogger())

	front.RegisterFrontRoutes(engine, front.Deps{
		Proxy:    proxy,
		Resolver: resolver,
		Limiter:  s.limiter,
		Metrics:  m,
	})
	admin.RegisterAdminRoutes(engine, conn, resolver, cfg.Quota.MonthlyTokenLimit, cfg.Quota.WarningThreshold)
	if m != nil {
		engine.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	s.engine = engine
	s.handler = corsHandler(cfg.Server.CORSOrigins).Handler(engine)
	built = true
	return s, nil
}

// openDB is swapped in tests to observe the connection Build opens.
var openDB = db.Open

// release closes whatever a failed Build had opened.
func (s *Service) release() {
	if s.limiter != nil {
		_ = s.limiter.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if sqlDB, errDB := s.conn.DB(); errDB == nil {
		if errClose := sqlDB.Close(); errClose != nil {
			log.WithError(errClose).Warn("app: close database failed")
		}
	}
}

func (s *Service) quotaStore(now func() time.Time) (quota.Store, error) {
	switch s.cfg.Quota.Backend {
	case config.QuotaBackendRedis:
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
		})
		return quota.NewRedisStore(s.redis, s.cfg.Redis.Prefix, now), nil
	case config.QuotaBackendMemory:
		log.Warn("quota backend memory: usage is lost on restart and not shared between instances")
		return quota.NewMemoryStore(now), nil
	case config.QuotaBackendDatabase, "":
		return quota.NewGormStore(s.conn, now), nil
	default:
		return nil, fmt.Errorf("app: unsupported quota backend %q", s.cfg.Quota.Backend)
	}
}

// Handler returns the root handler including CORS.
func (s *Service) Handler() http.Handler { return s.handler }

// Close waits for pending ledger writes and releases connections.
func (s *Service) Close() error {
	s.ledger.Wait()
	var errs []error
	if errLimiter := s.limiter.Close(); errLimiter != nil {
		errs = append(errs, errLimiter)
	}
	if s.redis != nil {
		if errRedis := s.redis.Close(); errRedis != nil {
			errs = append(errs, errRedis)
		}
	}
	if sqlDB, errDB := s.conn.DB(); errDB == nil {
		if errClose := sqlDB.Close(); errClose != nil {
			errs = append(errs, errClose)
		}
	}
	return errors.Join(errs...)
}

// RunServer builds the service and serves until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	ConfigureLogging(cfg.Logging)

	svc, err := Build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := svc.Close(); errClose != nil {
			log.WithError(errClose).Warn("shutdown: release resources failed")
		}
	}()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Upstream.Timeout + 15*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"port":          cfg.Server.Port,
			"quota_backend": cfg.Quota.Backend,
			"model":         cfg.Upstream.Model,
		}).Info("starting metered proxy")
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe, ok := <-errCh:
		if ok {
			return fmt.Errorf("app: serve: %w", errServe)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	return nil
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: corsAllowedHeaders,
		ExposedHeaders: []string{
			front.HeaderRequestID,
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		MaxAge: 300,
	})
}
