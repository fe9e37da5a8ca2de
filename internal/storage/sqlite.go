package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/txbench/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// Used for non-critical JSON columns so one corrupt value does not hide a run.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements RunStore using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ RunStore = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		expected INTEGER DEFAULT 0,
		dispatched INTEGER DEFAULT 0,
		observed INTEGER DEFAULT 0,
		violations INTEGER DEFAULT 0,
		observed_tps REAL DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		wait_until TEXT,
		severity TEXT,
		latency_stats TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS violations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		item_index INTEGER NOT NULL,
		account TEXT NOT NULL,
		nonce INTEGER NOT NULL,
		kind TEXT NOT NULL,
		message TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_violations_run ON violations(run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema.
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"runs", "interval_us", "ALTER TABLE runs ADD COLUMN interval_us INTEGER DEFAULT 0"},
		{"runs", "concurrency", "ALTER TABLE runs ADD COLUMN concurrency INTEGER DEFAULT 0"},
	}

	for _, m := range migrations {
		if !s.columnExists(m.table, m.column) {
			if _, err := s.db.Exec(m.ddl); err != nil {
				slog.Warn("migration failed", "table", m.table, "column", m.column, "error", err.Error())
			}
		}
	}

	return nil
}

// columnExists checks if a column exists in a table. Identifiers are validated
// before they are interpolated.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier allows only alphanumeric characters and underscore.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces a run and its violation samples in one transaction.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *types.RunDetail) error {
	var latencyJSON sql.NullString
	if run.Latency != nil {
		b, err := json.Marshal(run.Latency)
		if err != nil {
			return fmt.Errorf("failed to marshal latency stats: %w", err)
		}
		latencyJSON = sql.NullString{String: string(b), Valid: true}
	}
	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, status, started_at, completed_at, expected, dispatched, observed,
			violations, observed_tps, elapsed_ms, wait_until, severity, interval_us, concurrency,
			latency_stats, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			expected = excluded.expected,
			dispatched = excluded.dispatched,
			observed = excluded.observed,
			violations = excluded.violations,
			observed_tps = excluded.observed_tps,
			elapsed_ms = excluded.elapsed_ms,
			wait_until = excluded.wait_until,
			severity = excluded.severity,
			interval_us = excluded.interval_us,
			concurrency = excluded.concurrency,
			latency_stats = excluded.latency_stats,
			error_message = excluded.error_message
	`, run.ID, string(run.Kind), string(run.Status), run.StartedAt, completedAt,
		run.Expected, run.Dispatched, run.Observed, run.Violations, run.ObservedTPS, run.ElapsedMs,
		run.WaitUntil, run.Severity, run.IntervalUs, run.Concurrency,
		latencyJSON, nullString(run.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM violations WHERE run_id = ?", run.ID); err != nil {
		return err
	}

	if len(run.Samples) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO violations (run_id, item_index, account, nonce, kind, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, v := range run.Samples {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := stmt.ExecContext(ctx, run.ID, v.Index, v.Account, int64(v.Nonce), v.Kind, nullString(v.Message)); err != nil {
				return fmt.Errorf("failed to save violation sample: %w", err)
			}
		}
	}

	return tx.Commit()
}

const runColumns = `id, kind, status, started_at, completed_at, expected, dispatched, observed,
	violations, observed_tps, elapsed_ms, COALESCE(wait_until, ''), COALESCE(severity, ''),
	COALESCE(interval_us, 0), COALESCE(concurrency, 0), latency_stats, error_message`

// GetRun retrieves a run and its violation samples by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunDetail, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	samples, err := s.getViolations(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Samples = samples
	return run, nil
}

func (s *SQLiteStorage) getViolations(ctx context.Context, runID string) ([]types.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_index, account, nonce, kind, COALESCE(message, '')
		FROM violations
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Violation
	for rows.Next() {
		var v types.Violation
		var nonce int64
		if err := rows.Scan(&v.Index, &v.Account, &nonce, &v.Kind, &v.Message); err != nil {
			return nil, err
		}
		v.Nonce = uint64(nonce)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListRuns returns a page of run summaries, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*types.RunHistoryResponse, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run.RunSummary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &types.RunHistoryResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun deletes a run; its violation samples go with it.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*types.RunDetail, error) {
	var run types.RunDetail
	var kind, status string
	var completedAt sql.NullTime
	var latencyJSON, errorMsg sql.NullString

	err := row.Scan(&run.ID, &kind, &status, &run.StartedAt, &completedAt,
		&run.Expected, &run.Dispatched, &run.Observed, &run.Violations, &run.ObservedTPS, &run.ElapsedMs,
		&run.WaitUntil, &run.Severity, &run.IntervalUs, &run.Concurrency,
		&latencyJSON, &errorMsg)
	if err != nil {
		return nil, err
	}

	run.Kind = types.RunKind(kind)
	run.Status = types.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errorMsg.Valid {
		run.ErrorMessage = errorMsg.String
	}
	if latencyJSON.Valid && latencyJSON.String != "" {
		run.Latency = &types.LatencyStats{}
		unmarshalJSON(latencyJSON.String, run.Latency, "latency_stats", run.ID)
	}

	return &run, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
