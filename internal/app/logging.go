package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MealPlanProxy/internal/config"
	"github.com/router-for-me/MealPlanProxy/internal/http/api/front/handlers"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the level and format to the standard logger.
func ConfigureLogging(cfg config.LoggingConfig) {
	level, errLevel := log.ParseLevel(cfg.Level)
	if errLevel != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if errLevel != nil {
		log.WithField("level", cfg.Level).Warn("unknown log level, using info")
	}
}

// requestLogger logs one line per request after it completes.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"request_id": handlers.RequestIDFrom(c),
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Info("request served")
	}
}
