package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"qcweekly/internal/services"
)

// Store persists run history in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or connects to the history database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun inserts a running row and returns it. An empty id generates a
// new UUID.
func (s *Store) StartRun(ctx context.Context, id string, mode Mode, bidsFolder, baseFolder string, dryRun bool) (Run, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	run := Run{
		ID:         id,
		Mode:       mode,
		BidsFolder: bidsFolder,
		BaseFolder: baseFolder,
		StartedAt:  s.now(),
		Status:     StatusRunning,
		DryRun:     dryRun,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, bids_folder, base_folder, started_at, status, dry_run)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Mode), run.BidsFolder, run.BaseFolder,
		formatTime(run.StartedAt), string(run.Status), boolInt(dryRun),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the run with its final counters.
func (s *Store) FinishRun(ctx context.Context, id string, summary RunSummary) error {
	status := summary.Status
	if status == "" {
		status = services.FailureOutcome(summary.Err)
	}
	var message any
	if summary.Err != nil {
		message = summary.Err.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs
         SET finished_at = ?, status = ?, targets = ?, ok = ?, failed = ?,
             validator_status = ?, error_message = ?
         WHERE id = ?`,
		formatTime(s.now()), string(status), summary.Targets, summary.OK, summary.Failed,
		nullableString(summary.ValidatorStatus), message, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: %s not found", id)
	}
	return nil
}

// RecordSubject appends one participant outcome to a run.
func (s *Store) RecordSubject(ctx context.Context, sr SubjectRun) error {
	if sr.RecordedAt.IsZero() {
		sr.RecordedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subject_runs (
            run_id, label, cohort, status, exit_code, attempts, duration_ms,
            stdout_log, stderr_log, error_message, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.RunID, sr.Label, sr.Cohort, string(sr.Status), sr.ExitCode, sr.Attempts,
		sr.Duration.Milliseconds(), nullableString(sr.StdoutLog), nullableString(sr.StderrLog),
		nullableString(sr.Error), formatTime(sr.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert subject run: %w", err)
	}
	return nil
}

const runColumns = "id, mode, bids_folder, base_folder, started_at, finished_at, status, targets, ok, failed, validator_status, dry_run, error_message"

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun fetches one run by id; a missing run returns nil without error.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// SubjectRuns lists the participant outcomes recorded for a run in insertion
// order.
func (s *Store) SubjectRuns(ctx context.Context, runID string) ([]SubjectRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, label, cohort, status, exit_code, attempts, duration_ms,
                stdout_log, stderr_log, error_message, recorded_at
         FROM subject_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query subject runs: %w", err)
	}
	defer rows.Close()

	var out []SubjectRun
	for rows.Next() {
		var (
			sr         SubjectRun
			status     string
			durationMS int64
			stdoutLog  sql.NullString
			stderrLog  sql.NullString
			errMessage sql.NullString
			recorded   string
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Label, &sr.Cohort, &status, &sr.ExitCode, &sr.Attempts,
			&durationMS, &stdoutLog, &stderrLog, &errMessage, &recorded); err != nil {
			return nil, fmt.Errorf("scan subject run: %w", err)
		}
		sr.Status = outcome(status)
		sr.Duration = time.Duration(durationMS) * time.Millisecond
		sr.StdoutLog, sr.StderrLog, sr.Error = stdoutLog.String, stderrLog.String, errMessage.String
		sr.RecordedAt, _ = parseTime(recorded)
		out = append(out, sr)
	}
	return out, rows.Err()
}

// PruneBefore deletes runs (and their subject rows) started before cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff.UTC()))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
