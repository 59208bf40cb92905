package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MealPlanProxy/internal/metering"
)

// UsageFrontHandler reports the caller's own monthly usage.
type UsageFrontHandler struct {
	proxy *metering.Proxy
}

// NewUsageFrontHandler constructs a UsageFrontHandler.
func NewUsageFrontHandler(proxy *metering.Proxy) *UsageFrontHandler {
	return &UsageFrontHandler{proxy: proxy}
}

// Get returns the current period report for the caller.
func (h *UsageFrontHandler) Get(c *gin.Context) {
	caller, ok := CallerFrom(c)
	if !ok {
		writeError(c, metering.ErrUnauthorized)
		return
	}
	report, errUsage := h.proxy.Usage(c.Request.Context(), caller)
	if errUsage != nil {
		writeError(c, errUsage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenUsage": report, "anonymous": caller.Anonymous})
}
