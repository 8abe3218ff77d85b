// Package handlers contains the gin handlers of the status API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse is the response for the health endpoint.
type HealthResponse struct {
	Status  HealthStatus `json:"status"`
	Version string       `json:"version"`
	History HealthStatus `json:"history,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Pinger is implemented by the history store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles GET /health.
type HealthHandler struct {
	history Pinger
	version string
	logger  zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. history may be nil when run
// history is disabled.
func NewHealthHandler(history Pinger, version string, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		history: history,
		version: version,
		logger:  logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the health route on the engine root.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
}

// Health reports whether the daemon and its history database are usable.
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: HealthStatusHealthy, Version: h.version}

	if h.history != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		resp.History = HealthStatusHealthy
		if err := h.history.Ping(ctx); err != nil {
			h.logger.Error().Err(err).Msg("history database health check failed")
			resp.Status = HealthStatusUnhealthy
			resp.History = HealthStatusUnhealthy
			resp.Error = "history database unavailable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}
