package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/stitts-dev/survivor-ev/internal/api/handlers"
	"github.com/stitts-dev/survivor-ev/internal/api/middleware"
	"github.com/stitts-dev/survivor-ev/internal/cache"
	"github.com/stitts-dev/survivor-ev/internal/services"
	"github.com/stitts-dev/survivor-ev/pkg/config"
)

// NewRouter builds the engine with middleware, health checks and the API group.
func NewRouter(cfg *config.Config, service *services.EVService, store cache.Store, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CorsOrigins))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.ErrorLogger(logger))

	healthHandler := handlers.NewHealthHandler(store, logger)
	router.GET("/health", healthHandler.GetHealth)
	router.GET("/ready", healthHandler.GetReady)

	SetupRoutes(router.Group("/api/v1"), service, cfg, logger)
	return router
}

// SetupRoutes configures all API routes on the given router group
func SetupRoutes(group *gin.RouterGroup, service *services.EVService, cfg *config.Config, logger *logrus.Logger) {
	evHandler := handlers.NewEVHandler(service, cfg, logger)
	throttle := middleware.RateLimit(computeLimiter(cfg))

	group.POST("/ev", throttle, evHandler.ComputeEV)
	group.POST("/ev/validate", evHandler.ValidatePlayers)
	group.POST("/ev/export", throttle, evHandler.ExportEV)
	group.GET("/ev/defaults", evHandler.GetDefaults)
	group.GET("/ev/:id", evHandler.GetResult)
	group.GET("/ev/:id/csv", evHandler.GetResultCSV)
}

// computeLimiter is shared by the enumerating routes. A zero rate disables it.
func computeLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.ComputeRateLimit <= 0 {
		return nil
	}
	burst := cfg.ComputeRateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.ComputeRateLimit), burst)
}
