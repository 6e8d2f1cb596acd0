package store

const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS runs (
		run_id          TEXT PRIMARY KEY,
		started_at      INTEGER NOT NULL,
		hostname        TEXT NOT NULL,
		transport       TEXT NOT NULL,
		loader          TEXT NOT NULL,
		ranks           INTEGER NOT NULL,
		units           INTEGER NOT NULL,
		fractal_seconds REAL,
		output          TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		seq    INTEGER NOT NULL,
		name   TEXT NOT NULL,
		mean   REAL NOT NULL,
		min    REAL NOT NULL,
		max    REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
}
