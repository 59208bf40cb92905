package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dbutil "github.com/router-for-me/MealPlanProxy/internal/db"
	"github.com/router-for-me/MealPlanProxy/internal/models"
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	"gorm.io/gorm"
)

// UsageHandler serves admin views over quota counters and the usage ledger.
type UsageHandler struct {
	db        *gorm.DB
	limit     int64
	threshold float64
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB, limit int64, threshold float64) *UsageHandler {
	return &UsageHandler{db: db, limit: limit, threshold: threshold}
}

// usageListQuery defines filters for the quota counter list.
type usageListQuery struct {
	Page      int    `form:"page,default=1"`   // Page number.
	Limit     int    `form:"limit,default=20"` // Page size.
	User      string `form:"user"`             // User id substring.
	Month     int    `form:"month"`            // Period month, defaults to the current month.
	Year      int    `form:"year"`             // Period year, defaults to the current year.
	Anonymous string `form:"anonymous"`        // "true" or "false" to filter anonymous keys.
}

// List returns quota counters for one period, heaviest users first.
func (h *UsageHandler) List(c *gin.Context) {
	var q usageListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}
	period := quota.PeriodOf(time.Now())
	if q.Month != 0 {
		if q.Month < 1 || q.Month > 12 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
			return
		}
		period.Month = q.Month
	}
	if q.Year != 0 {
		period.Year = q.Year
	}

	base := h.db.WithContext(c.Request.Context()).
		Model(&models.UsageRecord{}).
		Where("month = ? AND year = ?", period.Month, period.Year)
	if userQ := strings.TrimSpace(q.User); userQ != "" {
		base = base.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "user_id"), "%"+strings.ToLower(userQ)+"%")
	}
	switch strings.TrimSpace(q.Anonymous) {
	case "true", "1":
		base = base.Where("user_id LIKE ?", "anon:%")
	case "false", "0":
		base = base.Where("user_id NOT LIKE ?", "anon:%")
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count usage failed"})
		return
	}

	var rows []models.UsageRecord
	if errFind := base.
		Order("tokens_used DESC, user_id ASC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list usage failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		report := quota.ToReport(quota.Record{TokensUsed: row.TokensUsed}, h.limit, h.threshold)
		out = append(out, gin.H{
			"user_id":      row.UserID,
			"anonymous":    strings.HasPrefix(row.UserID, "anon:"),
			"month":        row.Month,
			"year":         row.Year,
			"tokens_used":  row.TokensUsed,
			"last_reset":   row.LastReset,
			"last_updated": row.LastUpdated,
			"tokenUsage":   report,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"usage":  out,
		"period": period.String(),
		"total":  total,
		"page":   q.Page,
		"limit":  q.Limit,
	})
}

// summaryRow is one aggregated ledger row.
type summaryRow struct {
	Action   string `gorm:"column:action"`
	Requests int64  `gorm:"column:requests"`
	Tokens   int64  `gorm:"column:tokens"`
	Degraded int64  `gorm:"column:degraded"`
}

// Summary aggregates ledger events per action between since and until.
func (h *UsageHandler) Summary(c *gin.Context) {
	since, until, ok := parseRange(c)
	if !ok {
		return
	}
	var rows []summaryRow
	if errScan := h.db.WithContext(c.Request.Context()).
		Model(&models.UsageEvent{}).
		Select("action, COUNT(*) AS requests, COALESCE(SUM(total_tokens), 0) AS tokens, "+
			"COALESCE(SUM(CASE WHEN degraded THEN 1 ELSE 0 END), 0) AS degraded").
		Where("requested_at >= ? AND requested_at < ?", since, until).
		Group("action").
		Order("tokens DESC").
		Scan(&rows).Error; errScan != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summarize usage failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	var totalTokens, totalRequests int64
	for _, row := range rows {
		totalTokens += row.Tokens
		totalRequests += row.Requests
		out = append(out, gin.H{
			"action":   row.Action,
			"requests": row.Requests,
			"tokens":   row.Tokens,
			"degraded": row.Degraded,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"actions":  out,
		"requests": totalRequests,
		"tokens":   totalTokens,
		"since":    since,
		"until":    until,
	})
}

// eventListQuery defines filters for the ledger event list.
type eventListQuery struct {
	Page      int    `form:"page,default=1"`
	Limit     int    `form:"limit,default=50"`
	UserID    string `form:"user_id"`
	Action    string `form:"action"`
	Degraded  string `form:"degraded"`
	ParseMode string `form:"parse_mode"`
}

// Events lists ledger events, newest first.
func (h *UsageHandler) Events(c *gin.Context) {
	var q eventListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 200 {
		q.Limit = 50
	}
	since, until, ok := parseRange(c)
	if !ok {
		return
	}

	base := h.db.WithContext(c.Request.Context()).
		Model(&models.UsageEvent{}).
		Where("requested_at >= ? AND requested_at < ?", since, until)
	if userQ := strings.TrimSpace(q.UserID); userQ != "" {
		base = base.Where("user_id = ?", userQ)
	}
	if actionQ := strings.TrimSpace(q.Action); actionQ != "" {
		base = base.Where("action = ?", actionQ)
	}
	if degradedQ := strings.TrimSpace(q.Degraded); degradedQ != "" {
		degraded, errParse := strconv.ParseBool(degradedQ)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid degraded"})
			return
		}
		base = base.Where("degraded = ?", degraded)
	}
	if modeQ := strings.TrimSpace(q.ParseMode); modeQ != "" {
		base = base.Where(dbutil.JSONExtractTextExpr(h.db, "metadata", "parse_mode")+" = ?", modeQ)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count events failed"})
		return
	}
	var rows []models.UsageEvent
	if errFind := base.
		Order("requested_at DESC, id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":                row.ID,
			"request_id":        row.RequestID,
			"user_id":           row.UserID,
			"anonymous":         row.Anonymous,
			"action":            row.Action,
			"model":             row.Model,
			"prompt_tokens":     row.PromptTokens,
			"completion_tokens": row.CompletionTokens,
			"total_tokens":      row.TotalTokens,
			"degraded":          row.Degraded,
			"metadata":          row.Metadata,
			"requested_at":      row.RequestedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"events": out,
		"total":  total,
		"page":   q.Page,
		"limit":  q.Limit,
	})
}

// parseRange reads RFC 3339 since/until query values. The default window is
// the current calendar month in UTC.
func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	until := since.AddDate(0, 1, 0)
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		parsed, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return time.Time{}, time.Time{}, false
		}
		since = parsed.UTC()
	}
	if raw := strings.TrimSpace(c.Query("until")); raw != "" {
		parsed, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until"})
			return time.Time{}, time.Time{}, false
		}
		until = parsed.UTC()
	}
	if !until.After(since) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "until must be after since"})
		return time.Time{}, time.Time{}, false
	}
	return since, until, true
}
