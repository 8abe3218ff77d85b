// Package api provides the HTTP status API of the resticsnap daemon.
package api

import (
	"github.com/MacJediWizard/resticsnap/internal/api/handlers"
	"github.com/MacJediWizard/resticsnap/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// RateLimitRequests is the number of requests allowed per period and client.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m").
	RateLimitPeriod string
	Version         string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 60,
		RateLimitPeriod:   "1m",
		Version:           "dev",
	}
}

// Dependencies are the components the API exposes. History and Gatherer are
// optional.
type Dependencies struct {
	Controller handlers.BackupController
	History    HistoryStore
	Gatherer   prometheus.Gatherer
}

// HistoryStore is implemented by *history.SQLiteStore.
type HistoryStore interface {
	handlers.RunStore
	handlers.Pinger
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}

	var (
		pinger handlers.Pinger
		runs   handlers.RunStore
	)
	if deps.History != nil {
		pinger = deps.History
		runs = deps.History
	}

	handlers.NewHealthHandler(pinger, cfg.Version, logger).RegisterPublicRoutes(r.Engine)

	if deps.Gatherer != nil {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(rateLimiter)
	handlers.NewStatusHandler(deps.Controller, runs, logger).RegisterRoutes(apiV1)

	r.logger.Debug().Bool("history", runs != nil).Bool("metrics", deps.Gatherer != nil).Msg("routes registered")

	return r, nil
}
