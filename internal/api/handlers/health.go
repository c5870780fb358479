package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/survivor-ev/internal/cache"
)

// HealthStatus is the body of /health and /ready
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store  cache.Store
	logger *logrus.Logger
}

func NewHealthHandler(store cache.Store, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		logger: logger,
	}
}

// GetHealth reports liveness. A failing cache reports degraded, still 200.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := HealthStatus{
		Status:    "ok",
		Service:   "survivor-ev",
		Timestamp: time.Now(),
		Checks:    map[string]string{"calculator": "ok"},
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "degraded"
		response.Checks[h.store.Name()] = "failed: " + err.Error()
	} else {
		response.Checks[h.store.Name()] = "ok"
	}

	c.JSON(http.StatusOK, response)
}

// GetReady reports readiness to accept traffic
func (h *HealthHandler) GetReady(c *gin.Context) {
	response := HealthStatus{
		Status:    "ready",
		Service:   "survivor-ev",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.WithError(err).Warn("Cache not ready")
		response.Status = "not_ready"
		response.Checks[h.store.Name()] = "failed: " + err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Checks[h.store.Name()] = "ok"
	c.JSON(http.StatusOK, response)
}
