// Package registry keeps a ledger of training runs in a SQLite database.
//
// Each run is recorded when it starts and updated when it finishes, so a
// crashed run stays visible as "running". The registry is informational:
// serving never reads it.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/houseprice/artifact"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one training run.
type Run struct {
	ID          string
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	DatasetPath string
	Samples     int
	Seed        int64
	BundleID    string // empty unless the run published a bundle
	EpochsRun   int
	BestEpoch   int
	Metrics     artifact.Metrics
	Error       string
}

// Registry is a SQLite-backed run ledger. It is safe for concurrent use.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Registry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open registry")
	}
	// 書き込みはSQLite側で直列化されるため接続数は少なくてよい
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect registry %s", path)
	}
	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize registry schema")
	}
	return r, nil
}

// Close closes the database connection
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS training_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		dataset_path TEXT NOT NULL,
		samples INTEGER NOT NULL DEFAULT 0,
		seed INTEGER NOT NULL DEFAULT 0,
		bundle_id TEXT,
		epochs_run INTEGER NOT NULL DEFAULT 0,
		best_epoch INTEGER NOT NULL DEFAULT 0,
		train_rmse REAL, test_rmse REAL,
		train_mae REAL, test_mae REAL,
		train_r2 REAL, test_r2 REAL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_training_runs_started_at ON training_runs(started_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Record inserts run or replaces the stored row with the same id.
func (r *Registry) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.NewValueError("Registry.Record", "run id is required")
	}
	if run.StartedAt.IsZero() {
		return errors.NewValueError("Registry.Record", "start time is required")
	}

	const query = `
	INSERT INTO training_runs (
		id, status, started_at, finished_at, dataset_path, samples, seed, bundle_id,
		epochs_run, best_epoch, train_rmse, test_rmse, train_mae, test_mae, train_r2, test_r2, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		finished_at = excluded.finished_at,
		samples = excluded.samples,
		bundle_id = excluded.bundle_id,
		epochs_run = excluded.epochs_run,
		best_epoch = excluded.best_epoch,
		train_rmse = excluded.train_rmse,
		test_rmse = excluded.test_rmse,
		train_mae = excluded.train_mae,
		test_mae = excluded.test_mae,
		train_r2 = excluded.train_r2,
		test_r2 = excluded.test_r2,
		error = excluded.error
	`
	m := run.Metrics
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Status, formatTime(run.StartedAt), nullTime(run.FinishedAt),
		run.DatasetPath, run.Samples, run.Seed, nullString(run.BundleID),
		run.EpochsRun, run.BestEpoch,
		m.TrainRMSE, m.TestRMSE, m.TrainMAE, m.TestMAE, m.TrainR2, m.TestR2,
		nullString(run.Error),
	)
	return errors.Wrapf(err, "record run %s", run.ID)
}

const selectRuns = `
	SELECT id, status, started_at, finished_at, dataset_path, samples, seed, bundle_id,
		epochs_run, best_epoch,
		COALESCE(train_rmse, 0), COALESCE(test_rmse, 0), COALESCE(train_mae, 0),
		COALESCE(test_mae, 0), COALESCE(train_r2, 0), COALESCE(test_r2, 0), error
	FROM training_runs`

// Get returns the run with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf("run %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", id)
	}
	return run, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (r *Registry) List(ctx context.Context, limit int) ([]Run, error) {
	query := selectRuns + ` ORDER BY started_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, *run)
	}
	return runs, errors.Wrap(rows.Err(), "iterate runs")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run                    Run
		started                string
		finished, bundle, fail sql.NullString
	)
	m := &run.Metrics
	err := s.Scan(&run.ID, &run.Status, &started, &finished, &run.DatasetPath, &run.Samples, &run.Seed, &bundle,
		&run.EpochsRun, &run.BestEpoch,
		&m.TrainRMSE, &m.TestRMSE, &m.TrainMAE, &m.TestMAE, &m.TrainR2, &m.TestR2, &fail)
	if err != nil {
		return nil, err
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, errors.Wrap(err, "parse started_at")
	}
	if finished.Valid {
		if run.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return nil, errors.Wrap(err, "parse finished_at")
		}
	}
	run.BundleID = bundle.String
	run.Error = fail.String
	return &run, nil
}

// timeLayout has a fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
