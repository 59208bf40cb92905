// Package front registers the caller-facing metered routes.
package front

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	handlers "github.com/router-for-me/MealPlanProxy/internal/http/api/front/handlers"
	"github.com/router-for-me/MealPlanProxy/internal/identity"
	"github.com/router-for-me/MealPlanProxy/internal/metering"
	"github.com/router-for-me/MealPlanProxy/internal/metrics"
	"github.com/router-for-me/MealPlanProxy/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// Deps are the collaborators of the front routes.
type Deps struct {
	Proxy    *metering.Proxy
	Resolver *identity.Resolver
	Limiter  *ratelimit.Manager
	Metrics  *metrics.Metrics
}

// RegisterFrontRoutes registers the metered action and usage routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Proxy == nil || deps.Resolver == nil {
		return
	}

	proxyHandler := handlers.NewProxyHandler(deps.Proxy, deps.Metrics)
	usageHandler := handlers.NewUsageFrontHandler(deps.Proxy)

	identified := r.Group("")
	identified.Use(identityMiddleware(deps.Resolver, deps.Metrics))
	identified.GET("/v1/usage", usageHandler.Get)

	metered := identified.Group("")
	metered.Use(rateLimitMiddleware(deps.Limiter, deps.Metrics))
	metered.POST("/functions/v1/openai", proxyHandler.Invoke)
	metered.POST("/v1/ai-proxy", proxyHandler.Invoke)
}

// RequestIDMiddleware reuses a well-formed incoming request id or assigns one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if _, errParse := uuid.Parse(id); errParse != nil {
			id = uuid.NewString()
		}
		c.Set(handlers.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// identityMiddleware resolves the bearer token or the anonymous key.
func identityMiddleware(resolver *identity.Resolver, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, errResolve := resolver.Resolve(c.GetHeader("Authorization"), c.ClientIP())
		if errResolve != nil {
			msg := "invalid token"
			if errors.Is(errResolve, identity.ErrMissingCredential) {
				msg = "missing authorization header"
			}
			m.ObserveRequest("", metrics.OutcomeUnauthorized)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": metrics.OutcomeUnauthorized})
			return
		}
		c.Set(handlers.CallerKey, caller)
		c.Next()
	}
}

// rateLimitMiddleware throttles bursts per caller and reports the window in headers.
func rateLimitMiddleware(limiter *ratelimit.Manager, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Limit() <= 0 {
			c.Next()
			return
		}
		caller, _ := handlers.CallerFrom(c)
		key := ratelimit.KeyForCaller(caller)
		result, errAllow := limiter.Allow(c.Request.Context(), key)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit: check failed, allowing request")
			c.Next()
			return
		}
		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
		}
		if !result.Allowed {
			retryAfter := result.RetryAfter(limiter.Now())
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			m.ObserveRequest("", metrics.OutcomeRateLimited)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "code": metrics.OutcomeRateLimited})
			return
		}
		c.Next()
	}
}
