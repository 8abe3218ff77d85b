package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MacJediWizard/resticsnap/internal/backup"
	"github.com/MacJediWizard/resticsnap/internal/history"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

// BackupController is the part of backup.Scheduler the API drives.
type BackupController interface {
	State() backup.RunState
	Running() bool
	Interval() time.Duration
	Target() string
	TryTrigger() error
}

// RunStore is the part of the history store the API reads.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]*backup.RunRecord, error)
	LastSuccessful(ctx context.Context) (*backup.RunRecord, error)
	GetRun(ctx context.Context, id uuid.UUID) (*backup.RunRecord, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunResponse is the JSON form of a backup.RunRecord.
type RunResponse struct {
	ID              uuid.UUID       `json:"id"`
	Trigger         string          `json:"trigger"`
	Target          string          `json:"target"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"`
	DurationSeconds float64         `json:"duration_seconds"`
	Status          string          `json:"status"`
	Summary         *backup.Summary `json:"summary,omitempty"`
	Message         string          `json:"message,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	State            backup.RunState `json:"state"`
	SchedulerRunning bool            `json:"scheduler_running"`
	IntervalSeconds  int64           `json:"interval_seconds"`
	Target           string          `json:"target"`
	LastRun          *RunResponse    `json:"last_run,omitempty"`
	LastSuccess      *RunResponse    `json:"last_success,omitempty"`
}

// StatusHandler serves backup status, manual triggers and run history.
type StatusHandler struct {
	controller BackupController
	runs       RunStore
	logger     zerolog.Logger
}

// NewStatusHandler creates a new StatusHandler. runs may be nil when run
// history is disabled.
func NewStatusHandler(controller BackupController, runs RunStore, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		controller: controller,
		runs:       runs,
		logger:     logger.With().Str("component", "status_handler").Logger(),
	}
}

// RegisterRoutes registers status routes on the given router group.
func (h *StatusHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/status", h.Status)
	r.POST("/backup", h.TriggerBackup)
	r.GET("/runs", h.ListRuns)
	r.GET("/runs/:id", h.GetRun)
}

// Status returns the current run state and the most recent results.
// GET /api/v1/status
func (h *StatusHandler) Status(c *gin.Context) {
	resp := StatusResponse{
		State:            h.controller.State(),
		SchedulerRunning: h.controller.Running(),
		IntervalSeconds:  int64(h.controller.Interval() / time.Second),
		Target:           h.controller.Target(),
	}

	if h.runs != nil {
		ctx := c.Request.Context()

		recent, err := h.runs.ListRuns(ctx, 1)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to load last run")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load run history"})
			return
		}
		if len(recent) > 0 {
			resp.LastRun = toRunResponse(recent[0])
		}

		last, err := h.runs.LastSuccessful(ctx)
		switch {
		case err == nil:
			resp.LastSuccess = toRunResponse(last)
		case !isNotFound(err):
			h.logger.Error().Err(err).Msg("failed to load last successful run")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load run history"})
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}

// TriggerBackup starts a manual backup in the background.
// POST /api/v1/backup
func (h *StatusHandler) TriggerBackup(c *gin.Context) {
	if err := h.controller.TryTrigger(); err != nil {
		if errors.Is(err, backup.ErrBusy) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Msg("failed to trigger backup")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to trigger backup"})
		return
	}

	h.logger.Info().Str("client_ip", c.ClientIP()).Msg("manual backup triggered")
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ListRuns returns recent runs, newest first.
// GET /api/v1/runs?limit=N
func (h *StatusHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run history disabled"})
		return
	}

	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list runs")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list runs"})
		return
	}

	resp := make([]*RunResponse, 0, len(runs))
	for _, rec := range runs {
		resp = append(resp, toRunResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"runs": resp})
}

// GetRun returns a single run.
// GET /api/v1/runs/:id
func (h *StatusHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run history disabled"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid run ID"})
		return
	}

	rec, err := h.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
			return
		}
		h.logger.Error().Err(err).Str("run_id", id.String()).Msg("failed to get run")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, toRunResponse(rec))
}

func isNotFound(err error) bool {
	return errors.Is(err, history.ErrRunNotFound)
}

func toRunResponse(rec *backup.RunRecord) *RunResponse {
	resp := &RunResponse{
		ID:              rec.ID,
		Trigger:         string(rec.Trigger),
		Target:          rec.Target,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		DurationSeconds: rec.CompletedAt.Sub(rec.StartedAt).Seconds(),
		Status:          string(rec.Status),
		Summary:         rec.Summary,
		Error:           rec.Error,
	}
	if rec.Summary != nil {
		resp.Message = rec.Summary.String()
	}
	return resp
}
