// Package history persists the outcome of every backup run in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MacJediWizard/resticsnap/internal/backup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run does not exist.
var ErrRunNotFound = errors.New("run not found")

// timeLayout is fixed width so that timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// SQLiteStore implements backup.Recorder using SQLite for local persistence.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ backup.Recorder = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the history database at dbPath.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "history_store").Logger(),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Debug().Str("path", dbPath).Msg("history database initialized")

	return store, nil
}

// migrate creates the necessary tables.
func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS backup_runs (
			id TEXT PRIMARY KEY,
			trigger_type TEXT NOT NULL,
			target TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			status TEXT NOT NULL,
			snapshot_id TEXT,
			summary TEXT,
			error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_backup_runs_started_at ON backup_runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_backup_runs_status ON backup_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun stores a finished run.
func (s *SQLiteStore) RecordRun(ctx context.Context, rec *backup.RunRecord) error {
	var summaryJSON, snapshotID sql.NullString
	if rec.Summary != nil {
		data, err := json.Marshal(rec.Summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summaryJSON = sql.NullString{String: string(data), Valid: true}
		snapshotID = nullString(rec.Summary.SnapshotID)
	}

	query := `
		INSERT INTO backup_runs (id, trigger_type, target, started_at, completed_at, status, snapshot_id, summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID.String(),
		string(rec.Trigger),
		rec.Target,
		formatTime(rec.StartedAt),
		formatTime(rec.CompletedAt),
		string(rec.Status),
		snapshotID,
		summaryJSON,
		nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("insert backup run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (*backup.RunRecord, error) {
	query := `
		SELECT id, trigger_type, target, started_at, completed_at, status, summary, error
		FROM backup_runs
		WHERE id = ?
	`

	rec, err := scanRun(s.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return rec, err
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*backup.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, trigger_type, target, started_at, completed_at, status, summary, error
		FROM backup_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*backup.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// LastSuccessful returns the most recent completed or skipped run.
func (s *SQLiteStore) LastSuccessful(ctx context.Context) (*backup.RunRecord, error) {
	query := `
		SELECT id, trigger_type, target, started_at, completed_at, status, summary, error
		FROM backup_runs
		WHERE status IN ('completed', 'skipped')
		ORDER BY started_at DESC
		LIMIT 1
	`

	rec, err := scanRun(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return rec, err
}

// PruneOlderThan removes runs that started before the given age.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := s.db.ExecContext(ctx, `DELETE FROM backup_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return int(affected), nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*backup.RunRecord, error) {
	var (
		idStr, trigger, target, startedAtStr, completedAtStr, status string
		summaryJSON, errMsg                                          sql.NullString
	)

	if err := row.Scan(&idStr, &trigger, &target, &startedAtStr, &completedAtStr, &status, &summaryJSON, &errMsg); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}

	startedAt, err := time.Parse(timeLayout, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}

	completedAt, err := time.Parse(timeLayout, completedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	rec := &backup.RunRecord{
		ID:          id,
		Trigger:     backup.Trigger(trigger),
		Target:      target,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Status:      backup.RunStatus(status),
		Error:       errMsg.String,
	}

	if summaryJSON.Valid {
		var summary backup.Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err != nil {
			return nil, fmt.Errorf("parse summary: %w", err)
		}
		rec.Summary = &summary
	}

	return rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
