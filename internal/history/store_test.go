package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MacJediWizard/resticsnap/internal/backup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	store, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRecord(startedAt time.Time, status backup.RunStatus) *backup.RunRecord {
	rec := &backup.RunRecord{
		ID:          uuid.New(),
		Trigger:     backup.TriggerScheduled,
		Target:      "/home/user/work",
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(90 * time.Second),
		Status:      status,
	}
	switch status {
	case backup.RunStatusCompleted:
		rec.Summary = &backup.Summary{
			MessageType:   "summary",
			FilesNew:      3,
			DataAdded:     2048,
			TotalDuration: 1.25,
			SnapshotID:    "abc123",
		}
	case backup.RunStatusSkipped:
		rec.Summary = &backup.Summary{MessageType: "summary", TotalFilesProcessed: 10}
	case backup.RunStatusFailed:
		rec.Error = "backup failed with exit code 1"
	}
	return rec
}

func TestSQLiteStore_RecordAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 10, 14, 9, 0, 0, 123456789, time.UTC)
	rec := newRecord(started, backup.RunStatusCompleted)

	if err := store.RecordRun(ctx, rec); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}

	if got.ID != rec.ID {
		t.Errorf("expected ID %s, got %s", rec.ID, got.ID)
	}
	if got.Trigger != backup.TriggerScheduled {
		t.Errorf("expected scheduled trigger, got %s", got.Trigger)
	}
	if got.Target != rec.Target {
		t.Errorf("expected target %s, got %s", rec.Target, got.Target)
	}
	if !got.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("expected started_at %v, got %v", rec.StartedAt, got.StartedAt)
	}
	if !got.CompletedAt.Equal(rec.CompletedAt) {
		t.Errorf("expected completed_at %v, got %v", rec.CompletedAt, got.CompletedAt)
	}
	if got.Status != backup.RunStatusCompleted {
		t.Errorf("expected completed status, got %s", got.Status)
	}
	if got.Summary == nil {
		t.Fatal("expected summary to be stored")
	}
	if *got.Summary != *rec.Summary {
		t.Errorf("expected summary %+v, got %+v", rec.Summary, got.Summary)
	}
	if got.Error != "" {
		t.Errorf("expected no error, got %q", got.Error)
	}
}

func TestSQLiteStore_FailedRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newRecord(time.Now(), backup.RunStatusFailed)
	if err := store.RecordRun(ctx, rec); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Summary != nil {
		t.Errorf("expected nil summary, got %+v", got.Summary)
	}
	if got.Error != rec.Error {
		t.Errorf("expected error %q, got %q", rec.Error, got.Error)
	}
}

func TestSQLiteStore_GetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), uuid.New())
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSQLiteStore_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newRecord(time.Now(), backup.RunStatusCompleted)
	if err := store.RecordRun(ctx, rec); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := store.RecordRun(ctx, rec); err == nil {
		t.Error("expected error recording the same run twice")
	}
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		rec := newRecord(base.Add(time.Duration(i)*time.Hour), backup.RunStatusCompleted)
		ids = append(ids, rec.ID)
		if err := store.RecordRun(ctx, rec); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	t.Run("newest first with limit", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, 3)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 3 {
			t.Fatalf("expected 3 runs, got %d", len(runs))
		}
		if runs[0].ID != ids[4] || runs[1].ID != ids[3] || runs[2].ID != ids[2] {
			t.Error("runs are not ordered newest first")
		}
	})

	t.Run("no limit returns all", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, 0)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 5 {
			t.Errorf("expected 5 runs, got %d", len(runs))
		}
	})
}

func TestSQLiteStore_ListRunsEmpty(t *testing.T) {
	store := newTestStore(t)

	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestSQLiteStore_LastSuccessful(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.LastSuccessful(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound on empty store, got %v", err)
	}

	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	completed := newRecord(base, backup.RunStatusCompleted)
	skipped := newRecord(base.Add(time.Hour), backup.RunStatusSkipped)
	failed := newRecord(base.Add(2*time.Hour), backup.RunStatusFailed)
	for _, rec := range []*backup.RunRecord{completed, skipped, failed} {
		if err := store.RecordRun(ctx, rec); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	got, err := store.LastSuccessful(ctx)
	if err != nil {
		t.Fatalf("LastSuccessful failed: %v", err)
	}
	if got.ID != skipped.ID {
		t.Errorf("expected skipped run %s, got %s (%s)", skipped.ID, got.ID, got.Status)
	}
}

func TestSQLiteStore_PruneOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := newRecord(time.Now().Add(-48*time.Hour), backup.RunStatusCompleted)
	recent := newRecord(time.Now().Add(-time.Hour), backup.RunStatusCompleted)
	for _, rec := range []*backup.RunRecord{old, recent} {
		if err := store.RecordRun(ctx, rec); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	pruned, err := store.PruneOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOlderThan failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned, got %d", pruned)
	}

	if _, err := store.GetRun(ctx, old.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected old run to be pruned, got %v", err)
	}
	if _, err := store.GetRun(ctx, recent.ID); err != nil {
		t.Errorf("expected recent run to remain, got %v", err)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	rec := newRecord(time.Now(), backup.RunStatusCompleted)
	if err := store.RecordRun(ctx, rec); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, rec.ID); err != nil {
		t.Errorf("expected run to persist across reopen, got %v", err)
	}
}
