package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/survivor-ev/internal/api"
	"github.com/stitts-dev/survivor-ev/internal/cache"
	"github.com/stitts-dev/survivor-ev/internal/services"
	"github.com/stitts-dev/survivor-ev/pkg/config"
	"github.com/stitts-dev/survivor-ev/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	structuredLogger := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	log := logger.WithService("survivor-ev")
	log.WithFields(logrus.Fields{
		"environment":       cfg.Env,
		"port":              cfg.Port,
		"max_exact_players": cfg.MaxExactPlayers,
		"workers":           cfg.Workers(),
	}).Info("Starting survivor EV service")

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore := newStore(cfg, structuredLogger, log)
	defer closeStore()

	evService := services.NewEVService(cfg, store, structuredLogger)
	router := api.NewRouter(cfg, evService, store, structuredLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Survivor EV service started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down survivor EV service...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Survivor EV service forced to shutdown: %v", err)
	}

	log.Info("Survivor EV service exited")
}

// newStore connects to Redis when REDIS_URL is set and falls back to the
// in-memory store when it is empty or unreachable.
func newStore(cfg *config.Config, structuredLogger *logrus.Logger, log *logrus.Entry) (cache.Store, func()) {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not set, caching results in memory")
		return newMemoryStore(cfg, structuredLogger, log)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unreachable, caching results in memory")
		client.Close()
		return newMemoryStore(cfg, structuredLogger, log)
	}

	log.Info("Connected to Redis result cache")
	store := cache.NewRedisStore(client, cfg.CircuitBreakerThreshold, structuredLogger)
	return store, func() { client.Close() }
}

func newMemoryStore(cfg *config.Config, structuredLogger *logrus.Logger, log *logrus.Entry) (cache.Store, func()) {
	store := cache.NewMemoryStore()
	stop, err := store.StartJanitor(cfg.CacheSweepSchedule, structuredLogger)
	if err != nil {
		log.Fatalf("Failed to start cache janitor: %v", err)
	}
	return store, stop
}
