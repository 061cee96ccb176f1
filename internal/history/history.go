// Package history persists completed runs to PostgreSQL so results can be
// compared across days, builds and target versions.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/perflab/crucible/internal/report"
)

// Store wraps the runs database.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// NewStore wraps an existing connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSchema creates the tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(64) PRIMARY KEY,
			target TEXT NOT NULL,
			requests INT NOT NULL,
			concurrency INT NOT NULL,
			batch_size INT NOT NULL,
			successful INT NOT NULL,
			failed INT NOT NULL,
			success_rate DOUBLE PRECISION NOT NULL,
			throughput DOUBLE PRECISION NOT NULL,
			p50_ms DOUBLE PRECISION NOT NULL,
			p95_ms DOUBLE PRECISION NOT NULL,
			p99_ms DOUBLE PRECISION NOT NULL,
			degradation_pct DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			raw JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_batches (
			run_id VARCHAR(64) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			batch INT NOT NULL,
			requests INT NOT NULL,
			successful INT NOT NULL,
			failed INT NOT NULL,
			throughput DOUBLE PRECISION NOT NULL,
			p99_ms DOUBLE PRECISION NOT NULL,
			peak_memory_mb DOUBLE PRECISION NOT NULL,
			conns_total INT NOT NULL DEFAULT 0,
			time_wait INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, batch)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("history: create schema: %w", err)
		}
	}
	return nil
}

// SaveRun stores a run and its batches in one transaction.
func (s *Store) SaveRun(ctx context.Context, rec *report.RunRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: encode run %s: %w", rec.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO runs (id, target, requests, concurrency, batch_size,
            successful, failed, success_rate, throughput,
            p50_ms, p95_ms, p99_ms, degradation_pct, created_at, raw)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `,
		rec.ID, rec.Config.Target, rec.Config.TotalRequests, rec.Config.Concurrency,
		rec.Config.BatchSize, rec.Performance.Successful, rec.Performance.Failed,
		rec.Performance.SuccessRate, rec.Performance.Throughput,
		rec.Latency.P50MS, rec.Latency.P95MS, rec.Latency.P99MS,
		rec.DegradationPct, rec.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("history: insert run %s: %w", rec.ID, err)
	}

	for _, b := range rec.Batches {
		var connTotal, timeWait int
		if b.Connections != nil && b.Connections.After != nil {
			connTotal = b.Connections.After.Total
			timeWait = b.Connections.After.TimeWait
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO run_batches (run_id, batch, requests, successful, failed,
                throughput, p99_ms, peak_memory_mb, conns_total, time_wait, error)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        `,
			rec.ID, b.Batch, b.Requests, b.Successful, b.Failed,
			b.Throughput, b.Latency.P99MS, b.Resources.PeakMemoryMB,
			connTotal, timeWait, b.Error)
		if err != nil {
			return fmt.Errorf("history: insert run %s batch %d: %w", rec.ID, b.Batch, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit run %s: %w", rec.ID, err)
	}
	return nil
}

// RunRow is the list view of a stored run.
type RunRow struct {
	ID             string
	Target         string
	Requests       int
	Concurrency    int
	Throughput     float64
	SuccessRate    float64
	P99MS          float64
	DegradationPct float64
	CreatedAt      time.Time
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, target, requests, concurrency, throughput, success_rate,
            p99_ms, degradation_pct, created_at
        FROM runs
        ORDER BY created_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		err := rows.Scan(&r.ID, &r.Target, &r.Requests, &r.Concurrency,
			&r.Throughput, &r.SuccessRate, &r.P99MS, &r.DegradationPct, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadRun restores the full record of one stored run.
func (s *Store) LoadRun(ctx context.Context, id string) (*report.RunRecord, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT raw FROM runs WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("history: run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("history: load run %s: %w", id, err)
	}

	var rec report.RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("history: decode run %s: %w", id, err)
	}
	return &rec, nil
}

// DeleteRun removes a run; its batches cascade.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("history: delete run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: run %s not found", id)
	}
	return nil
}
