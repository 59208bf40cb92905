package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MealPlanProxy/internal/identity"
)

// Context keys shared with the front middleware.
const (
	CallerKey    = "caller"
	RequestIDKey = "requestID"
)

// CallerFrom returns the caller resolved by the identity middleware.
func CallerFrom(c *gin.Context) (identity.Caller, bool) {
	v, exists := c.Get(CallerKey)
	if !exists {
		return identity.Caller{}, false
	}
	caller, ok := v.(identity.Caller)
	return caller, ok
}

// RequestIDFrom returns the request id set by the request id middleware.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
