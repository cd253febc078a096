// Package runlog records analysis runs and their per-project results in
// SQLite so earlier comparisons can be listed and their artifacts checked.
package runlog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/yucchiy/UnityApiAnalyzer/internal/surface"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ProjectStatus says what happened to one tracked project.
type ProjectStatus string

const (
	ProjectWritten ProjectStatus = "written"
	ProjectSkipped ProjectStatus = "skipped"
)

// Run is one analyze invocation.
type Run struct {
	ID          string
	VersionA    string
	VersionB    string
	OutputDir   string
	Repository  string
	Status      Status
	StartedAt   time.Time
	CompletedAt *time.Time
	LastError   string
	Projects    []ProjectResult
}

// ProjectResult is the outcome for one project of a run.
type ProjectResult struct {
	Project       string
	Status        ProjectStatus
	AddedCount    int
	RemovedCount  int
	AddedPath     string
	RemovedPath   string
	AddedDigest   string
	RemovedDigest string
	Detail        string
}

// Store reads and writes the run log.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Start inserts a running run and returns its id.
func (s *Store) Start(ctx context.Context, versionA, versionB, outputDir, repository string) (string, error) {
	id := s.newID()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO analysis_run(id, version_a, version_b, output_dir, repository, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, id, versionA, versionB, outputDir, repository, string(StatusRunning), s.timestamp())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordProject stores or replaces the result for one project of a run.
func (s *Store) RecordProject(ctx context.Context, runID string, r ProjectResult) error {
	if r.Project == "" {
		return fmt.Errorf("project name is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO project_result(run_id, project, status, added_count, removed_count,
  added_path, removed_path, added_digest, removed_digest, detail, recorded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, project) DO UPDATE SET
  status = excluded.status,
  added_count = excluded.added_count,
  removed_count = excluded.removed_count,
  added_path = excluded.added_path,
  removed_path = excluded.removed_path,
  added_digest = excluded.added_digest,
  removed_digest = excluded.removed_digest,
  detail = excluded.detail,
  recorded_at = excluded.recorded_at;
`, runID, r.Project, string(r.Status), r.AddedCount, r.RemovedCount,
		nullString(r.AddedPath), nullString(r.RemovedPath),
		nullString(r.AddedDigest), nullString(r.RemovedDigest),
		nullString(r.Detail), s.timestamp())
	if err != nil {
		return fmt.Errorf("record project %q: %w", r.Project, err)
	}
	return nil
}

// Finish marks a run succeeded, or failed with runErr's message.
func (s *Store) Finish(ctx context.Context, runID string, runErr error) error {
	status := StatusSucceeded
	var lastErr sql.NullString
	if runErr != nil {
		status = StatusFailed
		lastErr = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE analysis_run SET status = ?, completed_at = ?, last_error = ? WHERE id = ?;
`, string(status), s.timestamp(), lastErr, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Get returns one run with its project results.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, version_a, version_b, output_dir, repository, status, started_at, completed_at, last_error
FROM analysis_run WHERE id = ?;
`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadProjects(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Recent returns up to limit runs, newest first, each with its projects.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, version_a, version_b, output_dir, repository, status, started_at, completed_at, last_error
FROM analysis_run ORDER BY started_at DESC, id DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	rows.Close()

	for i := range runs {
		if err := s.loadProjects(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Prune deletes runs started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_run WHERE started_at < ?;`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return n, nil
}

func (s *Store) loadProjects(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT project, status, added_count, removed_count, added_path, removed_path, added_digest, removed_digest, detail
FROM project_result WHERE run_id = ? ORDER BY recorded_at, project;
`, run.ID)
	if err != nil {
		return fmt.Errorf("list project results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                                        ProjectResult
			status                                   string
			addedPath, removedPath, addedDig, remDig sql.NullString
			detail                                   sql.NullString
		)
		if err := rows.Scan(&r.Project, &status, &r.AddedCount, &r.RemovedCount,
			&addedPath, &removedPath, &addedDig, &remDig, &detail); err != nil {
			return fmt.Errorf("scan project result: %w", err)
		}
		r.Status = ProjectStatus(status)
		r.AddedPath = addedPath.String
		r.RemovedPath = removedPath.String
		r.AddedDigest = addedDig.String
		r.RemovedDigest = remDig.String
		r.Detail = detail.String
		run.Projects = append(run.Projects, r)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                  Run
		status, started      string
		completed, lastError sql.NullString
	)
	if err := row.Scan(&run.ID, &run.VersionA, &run.VersionB, &run.OutputDir, &run.Repository,
		&status, &started, &completed, &lastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = Status(status)
	run.LastError = lastError.String

	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	run.StartedAt = t
	if completed.Valid {
		t, err := time.Parse(time.RFC3339Nano, completed.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at %q: %w", completed.String, err)
		}
		run.CompletedAt = &t
	}
	return &run, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Written builds the result for a project whose artifacts were written,
// including BLAKE3 digests of both files.
func Written(res surface.Result, arts surface.Artifacts) (ProjectResult, error) {
	addedDigest, err := Digest(arts.AddedPath)
	if err != nil {
		return ProjectResult{}, err
	}
	removedDigest, err := Digest(arts.RemovedPath)
	if err != nil {
		return ProjectResult{}, err
	}
	return ProjectResult{
		Project:       res.Project,
		Status:        ProjectWritten,
		AddedCount:    len(res.Added),
		RemovedCount:  len(res.Removed),
		AddedPath:     arts.AddedPath,
		RemovedPath:   arts.RemovedPath,
		AddedDigest:   addedDigest,
		RemovedDigest: removedDigest,
	}, nil
}

// Skipped builds the result for a project that produced no artifacts.
func Skipped(project string, reason error) ProjectResult {
	r := ProjectResult{Project: project, Status: ProjectSkipped}
	if reason != nil {
		r.Detail = reason.Error()
	}
	return r
}

// Digest returns the hex BLAKE3-256 digest of a file.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
