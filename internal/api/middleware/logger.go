package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const serviceName = "survivor-ev"

// Context keys handlers set once a run is known. RequestLogger copies them
// onto the access log line.
const (
	RunIDKey   = "run_id"
	ModeKey    = "mode"
	PlayersKey = "players"
	CachedKey  = "cached"
)

var runKeys = []string{RunIDKey, ModeKey, PlayersKey, CachedKey}

// RequestLogger creates a structured logger middleware for requests
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"service":    serviceName,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(startTime),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		})

		for _, key := range runKeys {
			if value, exists := c.Get(key); exists {
				entry = entry.WithField(key, value)
			}
		}
		if c.Request.URL.RawQuery != "" {
			entry = entry.WithField("query", c.Request.URL.RawQuery)
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Internal Server Error")
		case status >= 400:
			entry.Warn("Client Error")
		default:
			if _, ran := c.Get(RunIDKey); ran {
				entry.Info("EV run served")
			} else {
				entry.Info("Request completed")
			}
		}
	}
}

// ErrorLogger logs errors handlers attached with c.Error
func ErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.WithFields(logrus.Fields{
				"service":   serviceName,
				"method":    c.Request.Method,
				"path":      c.Request.URL.Path,
				"error":     err.Error(),
				"client_ip": c.ClientIP(),
			}).Error("Request error")
		}
	}
}
