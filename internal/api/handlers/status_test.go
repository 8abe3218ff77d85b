package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MacJediWizard/resticsnap/internal/backup"
	"github.com/MacJediWizard/resticsnap/internal/history"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockController implements BackupController for testing.
type mockController struct {
	state      backup.RunState
	running    bool
	interval   time.Duration
	target     string
	triggerErr error
	triggered  int
}

func (m *mockController) State() backup.RunState { return m.state }
func (m *mockController) Running() bool { return m.running }
func (m *mockController) Interval() time.Duration { return m.interval }
func (m *mockController) Target() string { return m.target }

func (m *mockController) TryTrigger() error {
	if m.triggerErr != nil {
		return m.triggerErr
	}
	m.triggered++
	return nil
}

// mockRunStore implements RunStore for testing.
type mockRunStore struct {
	runs    []*backup.RunRecord
	listErr error
	limits  []int
}

func (m *mockRunStore) ListRuns(_ context.Context, limit int) ([]*backup.RunRecord, error) {
	m.limits = append(m.limits, limit)
	if m.listErr != nil {
		return nil, m.listErr
	}
	if limit > len(m.runs) {
		limit = len(m.runs)
	}
	return m.runs[:limit], nil
}

func (m *mockRunStore) LastSuccessful(_ context.Context) (*backup.RunRecord, error) {
	for _, rec := range m.runs {
		if rec.Status != backup.RunStatusFailed {
			return rec, nil
		}
	}
	return nil, history.ErrRunNotFound
}

func (m *mockRunStore) GetRun(_ context.Context, id uuid.UUID) (*backup.RunRecord, error) {
	for _, rec := range m.runs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, history.ErrRunNotFound
}

func setupStatusTestRouter(controller BackupController, runs RunStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewStatusHandler(controller, runs, zerolog.Nop())
	handler.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func sampleRuns() []*backup.RunRecord {
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	return []*backup.RunRecord{
		{
			ID:          uuid.New(),
			Trigger:     backup.TriggerScheduled,
			Target:      "/home/user/work",
			StartedAt:   base.Add(2 * time.Hour),
			CompletedAt: base.Add(2*time.Hour + 3*time.Second),
			Status:      backup.RunStatusFailed,
			Error:       "restic backup failed with exit code 1",
		},
		{
			ID:          uuid.New(),
			Trigger:     backup.TriggerManual,
			Target:      "/home/user/work",
			StartedAt:   base,
			CompletedAt: base.Add(90 * time.Second),
			Status:      backup.RunStatusCompleted,
			Summary: &backup.Summary{
				MessageType:   "summary",
				FilesNew:      3,
				DataAdded:     2048,
				TotalDuration: 1.25,
				SnapshotID:    "abc123def456",
			},
		},
	}
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	controller := &mockController{
		state:    backup.StateRunning,
		running:  true,
		interval: time.Hour,
		target:   "/home/user/work",
	}

	t.Run("with history", func(t *testing.T) {
		runs := sampleRuns()
		r := setupStatusTestRouter(controller, &mockRunStore{runs: runs})

		w := doRequest(r, http.MethodGet, "/api/v1/status")
		require.Equal(t, http.StatusOK, w.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, backup.StateRunning, resp.State)
		assert.True(t, resp.SchedulerRunning)
		assert.Equal(t, int64(3600), resp.IntervalSeconds)
		assert.Equal(t, "/home/user/work", resp.Target)
		require.NotNil(t, resp.LastRun)
		assert.Equal(t, runs[0].ID, resp.LastRun.ID)
		assert.Equal(t, "failed", resp.LastRun.Status)
		require.NotNil(t, resp.LastSuccess)
		assert.Equal(t, runs[1].ID, resp.LastSuccess.ID)
		assert.Equal(t, 90.0, resp.LastSuccess.DurationSeconds)
		assert.Contains(t, resp.LastSuccess.Message, "snapshot abc123de")
	})

	t.Run("empty history", func(t *testing.T) {
		r := setupStatusTestRouter(controller, &mockRunStore{})

		w := doRequest(r, http.MethodGet, "/api/v1/status")
		require.Equal(t, http.StatusOK, w.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Nil(t, resp.LastRun)
		assert.Nil(t, resp.LastSuccess)
	})

	t.Run("history disabled", func(t *testing.T) {
		r := setupStatusTestRouter(controller, nil)

		w := doRequest(r, http.MethodGet, "/api/v1/status")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "last_run")
	})

	t.Run("history error", func(t *testing.T) {
		r := setupStatusTestRouter(controller, &mockRunStore{listErr: errors.New("disk I/O error")})

		w := doRequest(r, http.MethodGet, "/api/v1/status")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "disk I/O")
	})
}

func TestTriggerBackup(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		controller := &mockController{}
		r := setupStatusTestRouter(controller, nil)

		w := doRequest(r, http.MethodPost, "/api/v1/backup")
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, 1, controller.triggered)
	})

	t.Run("busy", func(t *testing.T) {
		controller := &mockController{triggerErr: backup.ErrBusy}
		r := setupStatusTestRouter(controller, nil)

		w := doRequest(r, http.MethodPost, "/api/v1/backup")
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, backup.ErrBusy.Error(), resp.Error)
		assert.Equal(t, 0, controller.triggered)
	})

	t.Run("other error", func(t *testing.T) {
		controller := &mockController{triggerErr: errors.New("boom")}
		r := setupStatusTestRouter(controller, nil)

		w := doRequest(r, http.MethodPost, "/api/v1/backup")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("GET not allowed", func(t *testing.T) {
		r := setupStatusTestRouter(&mockController{}, nil)

		w := doRequest(r, http.MethodGet, "/api/v1/backup")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListRuns(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
		wantRuns  int
	}{
		{"default limit", "", http.StatusOK, defaultRunsLimit, 2},
		{"explicit limit", "?limit=1", http.StatusOK, 1, 1},
		{"limit capped", "?limit=100000", http.StatusOK, maxRunsLimit, 2},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0, 0},
		{"not a number", "?limit=ten", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockRunStore{runs: sampleRuns()}
			r := setupStatusTestRouter(&mockController{}, store)

			w := doRequest(r, http.MethodGet, "/api/v1/runs"+tt.query)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				assert.Empty(t, store.limits)
				return
			}

			assert.Equal(t, []int{tt.wantLimit}, store.limits)

			var resp struct {
				Runs []RunResponse `json:"runs"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Len(t, resp.Runs, tt.wantRuns)
		})
	}

	t.Run("empty history returns empty list", func(t *testing.T) {
		r := setupStatusTestRouter(&mockController{}, &mockRunStore{})

		w := doRequest(r, http.MethodGet, "/api/v1/runs")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"runs":[]}`, w.Body.String())
	})

	t.Run("history disabled", func(t *testing.T) {
		r := setupStatusTestRouter(&mockController{}, nil)

		w := doRequest(r, http.MethodGet, "/api/v1/runs")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetRun(t *testing.T) {
	runs := sampleRuns()
	r := setupStatusTestRouter(&mockController{}, &mockRunStore{runs: runs})

	t.Run("found", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s", runs[1].ID))
		require.Equal(t, http.StatusOK, w.Code)

		var resp RunResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, runs[1].ID, resp.ID)
		assert.Equal(t, "manual", resp.Trigger)
		require.NotNil(t, resp.Summary)
		assert.Equal(t, int64(2048), resp.Summary.DataAdded)
	})

	t.Run("failed run carries error", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s", runs[0].ID))
		require.Equal(t, http.StatusOK, w.Code)

		var resp RunResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Nil(t, resp.Summary)
		assert.Equal(t, runs[0].Error, resp.Error)
	})

	t.Run("not found", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s", uuid.New()))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/api/v1/runs/not-a-uuid")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
