package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MealPlanProxy/internal/actions"
	"github.com/router-for-me/MealPlanProxy/internal/metering"
	"github.com/router-for-me/MealPlanProxy/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// maxBodyBytes caps metered request bodies.
const maxBodyBytes = 1 << 20

// ProxyHandler serves the metered AI action endpoint.
type ProxyHandler struct {
	proxy   *metering.Proxy
	metrics *metrics.Metrics
}

// NewProxyHandler constructs a ProxyHandler.
func NewProxyHandler(proxy *metering.Proxy, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{proxy: proxy, metrics: m}
}

// Invoke decodes the action envelope and runs it through the metered proxy.
func (h *ProxyHandler) Invoke(c *gin.Context) {
	caller, ok := CallerFrom(c)
	if !ok {
		h.metrics.ObserveRequest("", metrics.OutcomeUnauthorized)
		writeError(c, metering.ErrUnauthorized)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, errRead := c.GetRawData()
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": metrics.OutcomeInvalidPayload})
		return
	}
	req, errDecode := actions.Decode(body)
	if errDecode != nil {
		h.metrics.ObserveRequest("", metering.Outcome(errDecode))
		writeError(c, errDecode)
		return
	}
	action := string(req.Action())

	ctx := metering.WithRequestID(c.Request.Context(), RequestIDFrom(c))
	resp, errHandle := h.proxy.Handle(ctx, caller, req)
	if errHandle != nil {
		h.metrics.ObserveRequest(action, metering.Outcome(errHandle))
		writeError(c, errHandle)
		return
	}

	out, errBody := resp.Body()
	if errBody != nil {
		log.WithError(errBody).WithField("action", action).Error("proxy handler: failed to encode result")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	outcome := metrics.OutcomeOK
	if resp.Result.Degraded {
		outcome = metrics.OutcomeDegraded
	}
	h.metrics.ObserveRequest(action, outcome)
	c.JSON(http.StatusOK, out)
}
