// Package admin registers the service-role reporting routes.
package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	handlers "github.com/router-for-me/MealPlanProxy/internal/http/api/admin/handlers"
	"github.com/router-for-me/MealPlanProxy/internal/identity"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers health and admin usage routes.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, resolver *identity.Resolver, limit int64, threshold float64) {
	if r == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	if db == nil || resolver == nil {
		return
	}

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(resolver))

	usageHandler := handlers.NewUsageHandler(db, limit, threshold)
	authed.GET("/usage", usageHandler.List)
	authed.GET("/usage/summary", usageHandler.Summary)
	authed.GET("/usage/events", usageHandler.Events)
}

// adminAuthMiddleware requires a bearer JWT carrying the service role.
func adminAuthMiddleware(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := identity.BearerToken(authHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		claims, errJWT := resolver.Admin(token)
		if errJWT != nil {
			if errors.Is(errJWT, identity.ErrForbidden) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "service role required"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("adminSubject", strings.TrimSpace(claims.Subject))
		c.Next()
	}
}
