package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MealPlanProxy/internal/actions"
	"github.com/router-for-me/MealPlanProxy/internal/metering"
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	"github.com/router-for-me/MealPlanProxy/internal/upstream"
)

// User-facing error messages.
const (
	msgUnauthorized    = "Unauthorized"
	msgUpstreamBilling = "AI service quota or billing limit reached. Please try again later."
	msgUpstreamError   = "AI service request failed"
	msgStorage         = "usage storage unavailable"
)

// writeError maps a metering error onto the HTTP response.
func writeError(c *gin.Context, err error) {
	code := metering.Outcome(err)
	var (
		exceeded    *metering.QuotaExceededError
		upstreamErr *upstream.Error
	)
	switch {
	case errors.Is(err, metering.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized, "code": code})
	case errors.As(err, &exceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": exceeded.Error(), "code": code, "tokenUsage": exceeded.Report})
	case errors.Is(err, actions.ErrUnsupportedAction), errors.Is(err, actions.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": code})
	case errors.As(err, &upstreamErr):
		msg := msgUpstreamError
		if upstreamErr.QuotaOrBilling {
			msg = msgUpstreamBilling
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "code": code, "details": upstreamErr.Message})
	case errors.Is(err, quota.ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgStorage, "code": code})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": code})
	}
}
