package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perflab/crucible/internal/conns"
	"github.com/perflab/crucible/internal/monitor"
	"github.com/perflab/crucible/internal/report"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func sampleRecord() *report.RunRecord {
	return &report.RunRecord{
		ID:        "abc123",
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Config: report.ConfigRecord{
			Target:        "http://localhost:3000",
			TotalRequests: 10,
			Concurrency:   64,
			BatchSize:     5,
		},
		Performance: report.PerfRecord{
			TotalTimeSec: 0.3,
			Throughput:   30,
			SuccessRate:  90,
			Requests:     10,
			Successful:   9,
			Failed:       1,
		},
		Latency:        report.LatencyRecord{P50MS: 14, P95MS: 28, P99MS: 36},
		DegradationPct: 60,
		Batches: []report.BatchRecord{
			{
				Batch:      1,
				Requests:   5,
				Successful: 5,
				Throughput: 50,
				Latency:    report.LatencyRecord{P99MS: 18},
				Resources:  monitor.Summary{PeakMemoryMB: 200},
				Connections: &report.ConnRecord{
					After: &conns.Snapshot{Total: 40, TimeWait: 10},
				},
			},
			{
				Batch:      2,
				Requests:   5,
				Successful: 4,
				Failed:     1,
				Throughput: 20,
				Latency:    report.LatencyRecord{P99MS: 36},
				Resources:  monitor.Summary{PeakMemoryMB: 260},
			},
		},
	}
}

func TestCreateSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS run_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_runs_created_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_runs_target").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.CreateSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(rec.ID, rec.Config.Target, 10, 64, 5, 9, 1, 90.0, 30.0,
			14.0, 28.0, 36.0, 60.0, rec.Timestamp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO run_batches").
		WithArgs(rec.ID, 1, 5, 5, 0, 50.0, 18.0, 200.0, 40, 10, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO run_batches").
		WithArgs(rec.ID, 2, 5, 4, 1, 20.0, 36.0, 260.0, 0, 0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveRun(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnBatchFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO run_batches").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := store.SaveRun(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{"id", "target", "requests", "concurrency", "throughput",
		"success_rate", "p99_ms", "degradation_pct", "created_at"}
	now := time.Now()
	mock.ExpectQuery("SELECT id, target, requests").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run-b", "http://t", 1000, 64, 210.5, 100.0, 45.0, 3.0, now).
			AddRow("run-a", "http://t", 1000, 64, 250.0, 100.0, 40.0, 1.0, now.Add(-time.Hour)))

	runs, err := store.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID, "newest first")
	assert.InDelta(t, 210.5, runs[0].Throughput, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsDefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{"id", "target", "requests", "concurrency", "throughput",
		"success_rate", "p99_ms", "degradation_pct", "created_at"}
	mock.ExpectQuery("SELECT id, target, requests").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(cols))

	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRun(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT raw FROM runs").
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"raw"}).AddRow(raw))

	loaded, err := store.LoadRun(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, rec.Performance, loaded.Performance)
	require.Len(t, loaded.Batches, 2)
	assert.Equal(t, 40, loaded.Batches[0].Connections.After.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT raw FROM runs").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.LoadRun(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDeleteRun(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM runs").
		WithArgs("abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeleteRun(context.Background(), "abc123"))

	mock.ExpectExec("DELETE FROM runs").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.DeleteRun(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
