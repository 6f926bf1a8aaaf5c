package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/kernelgate/internal/model"

	_ "modernc.org/sqlite"
)

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id          TEXT PRIMARY KEY,
    kernel_id   TEXT NOT NULL,
    code        TEXT NOT NULL,
    success     INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    stdout      TEXT NOT NULL DEFAULT '',
    stderr      TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL,
    created_at  DATETIME NOT NULL
)`

const createExecutionsKernelIndex = `
CREATE INDEX IF NOT EXISTS idx_executions_kernel ON executions (kernel_id, created_at)`

const selectExecutionColumns = `SELECT id, kernel_id, code, success, error, stdout, stderr, duration_ms, created_at FROM executions`

// ErrNotFound is returned when an execution is not found.
var ErrNotFound = errors.New("execution not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dsn and runs migrations.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createExecutionsTable, createExecutionsKernelIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate executions table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertExecution inserts a finished execution.
func (s *SQLiteStore) InsertExecution(ctx context.Context, rec *model.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (
			id, kernel_id, code, success, error, stdout, stderr, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.KernelID, rec.Code, rec.Success, rec.Error,
		rec.Stdout, rec.Stderr, rec.DurationMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*model.ExecutionRecord, error) {
	rec := &model.ExecutionRecord{}
	err := row.Scan(
		&rec.ID, &rec.KernelID, &rec.Code, &rec.Success, &rec.Error,
		&rec.Stdout, &rec.Stderr, &rec.DurationMS, &rec.CreatedAt,
	)
	return rec, err
}

// GetExecution retrieves an execution by its cell id.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	rec, err := scanExecution(s.db.QueryRowContext(ctx, selectExecutionColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return rec, nil
}

// ListExecutions returns a page of executions ordered newest first, along
// with the total count. A non-empty kernelID restricts both to one kernel.
func (s *SQLiteStore) ListExecutions(ctx context.Context, kernelID string, limit, offset int) ([]*model.ExecutionRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where, args := "", []any{}
	if kernelID != "" {
		where, args = " WHERE kernel_id = ?", append(args, kernelID)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		selectExecutionColumns+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	execs := []*model.ExecutionRecord{}
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return execs, total, nil
}

// GetExecutionStats aggregates the whole history.
func (s *SQLiteStore) GetExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	stats := &ExecutionStats{CountByKernel: map[string]int{}}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0), AVG(duration_ms) FROM executions`,
	).Scan(&stats.Total, &stats.Succeeded, &avg)
	if err != nil {
		return nil, fmt.Errorf("aggregate executions: %w", err)
	}
	stats.Failed = stats.Total - stats.Succeeded
	stats.AvgDurationMS = avg.Float64

	rows, err := s.db.QueryContext(ctx, `SELECT kernel_id, COUNT(*) FROM executions GROUP BY kernel_id`)
	if err != nil {
		return nil, fmt.Errorf("count by kernel: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan kernel count: %w", err)
		}
		stats.CountByKernel[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kernel counts: %w", err)
	}
	return stats, nil
}
