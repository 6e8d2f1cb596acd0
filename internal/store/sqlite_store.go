// Package store keeps a history of benchmark runs in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hpc/Spindle/internal/collector/aggregator"
	"github.com/hpc/Spindle/pkg/logutil"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// RunRecord is one completed run as rank 0 saw it.
type RunRecord struct {
	RunID     string
	StartedAt time.Time
	Hostname  string
	Transport string
	Loader    string
	Ranks     int
	Units     int
	Metrics   []aggregator.Summary
	// FractalSeconds is zero when the fractal phase did not run.
	FractalSeconds float64
	Output         string
}

type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initializing schema: %w", err)
	}
	logutil.GetLogger().Debug("results store opened", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
		return err
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordRun stores rec and its metrics in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, hostname, transport, loader, ranks, units, fractal_seconds, output)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.StartedAt.UnixNano(), rec.Hostname, rec.Transport, rec.Loader,
		rec.Ranks, rec.Units, rec.FractalSeconds, rec.Output)
	if err != nil {
		return fmt.Errorf("store: inserting run %s: %w", rec.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics (run_id, seq, name, mean, min, max) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer stmt.Close()
	for i, m := range rec.Metrics {
		if _, err := stmt.ExecContext(ctx, rec.RunID, i, m.Name, m.Mean, m.Min, m.Max); err != nil {
			return fmt.Errorf("store: inserting metric %s: %w", m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	logutil.GetLogger().Info("run recorded", zap.String("run_id", rec.RunID), zap.Int("metrics", len(rec.Metrics)))
	return nil
}

// ListRuns returns up to limit runs, newest first, with their metrics.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_at, hostname, transport, loader, ranks, units, fractal_seconds, output
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing runs: %w", err)
	}
	var out []RunRecord
	for rows.Next() {
		var (
			rec     RunRecord
			started int64
			fractal sql.NullFloat64
			output  sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &started, &rec.Hostname, &rec.Transport, &rec.Loader,
			&rec.Ranks, &rec.Units, &fractal, &output); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: %w", err)
		}
		rec.StartedAt = time.Unix(0, started)
		rec.FractalSeconds = fractal.Float64
		rec.Output = output.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	rows.Close()

	for i := range out {
		metrics, err := s.metrics(ctx, out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].Metrics = metrics
	}
	return out, nil
}

func (s *SQLiteStore) metrics(ctx context.Context, runID string) ([]aggregator.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, mean, min, max FROM metrics WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: metrics of %s: %w", runID, err)
	}
	defer rows.Close()

	var out []aggregator.Summary
	for rows.Next() {
		var m aggregator.Summary
		if err := rows.Scan(&m.Name, &m.Mean, &m.Min, &m.Max); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
