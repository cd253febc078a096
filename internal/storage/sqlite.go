package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalPath(path, RunHistory); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer per process; the CLI records one run at a time.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analysis_run (
  id            TEXT PRIMARY KEY,
  version_a     TEXT NOT NULL,
  version_b     TEXT NOT NULL,
  output_dir    TEXT NOT NULL,
  repository    TEXT NOT NULL,
  status        TEXT NOT NULL,
  started_at    TEXT NOT NULL,
  completed_at  TEXT,
  last_error    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS project_result (
  run_id          TEXT NOT NULL REFERENCES analysis_run(id) ON DELETE CASCADE,
  project         TEXT NOT NULL,
  status          TEXT NOT NULL,
  added_count     INTEGER NOT NULL DEFAULT 0,
  removed_count   INTEGER NOT NULL DEFAULT 0,
  added_path      TEXT,
  removed_path    TEXT,
  added_digest    TEXT,
  removed_digest  TEXT,
  detail          TEXT,
  recorded_at     TEXT NOT NULL,
  PRIMARY KEY (run_id, project)
);`,
		`CREATE INDEX IF NOT EXISTS analysis_run_started_at_idx ON analysis_run(started_at);`,
		`CREATE INDEX IF NOT EXISTS analysis_run_versions_idx ON analysis_run(version_a, version_b);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
