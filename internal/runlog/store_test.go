package runlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yucchiy/UnityApiAnalyzer/internal/storage"
	"github.com/yucchiy/UnityApiAnalyzer/internal/surface"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.now = stepClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	id, err := s.Start(ctx, "2022.3.5f1", "2023.1.0a1", "/out", "https://example.com/ref.git")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	run, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	require.NoError(t, s.RecordProject(ctx, id, ProjectResult{
		Project:      "UnityEngine",
		Status:       ProjectWritten,
		AddedCount:   2,
		RemovedCount: 1,
		AddedPath:    "/out/UnityEngine_added.txt",
		RemovedPath:  "/out/UnityEngine_removed.txt",
		AddedDigest:  "aa",
	}))
	require.NoError(t, s.RecordProject(ctx, id, Skipped("UnityEditor", errors.New("project not found"))))
	require.NoError(t, s.RecordProject(ctx, id, ProjectResult{Project: "UnityEngine", Status: ProjectWritten, AddedCount: 3}),
		"recording a project twice replaces it")
	require.NoError(t, s.Finish(ctx, id, nil))

	run, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.True(t, run.CompletedAt.After(run.StartedAt))
	assert.Empty(t, run.LastError)
	require.Len(t, run.Projects, 2)

	byName := map[string]ProjectResult{}
	for _, p := range run.Projects {
		byName[p.Project] = p
	}
	assert.Equal(t, 3, byName["UnityEngine"].AddedCount)
	assert.Empty(t, byName["UnityEngine"].AddedPath)
	assert.Equal(t, ProjectSkipped, byName["UnityEditor"].Status)
	assert.Equal(t, "project not found", byName["UnityEditor"].Detail)
}

func TestFinishFailed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Start(ctx, "a", "b", "/out", "repo")
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, id, fmt.Errorf("checkout: boom")))

	run, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "checkout: boom", run.LastError)
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.Finish(ctx, "missing", nil), ErrRunNotFound)
}

func TestRecentAndPrune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = stepClock(base)

	var ids []string
	for i := range 5 {
		id, err := s.Start(ctx, fmt.Sprintf("2022.3.%df1", i), "2023.1.0f1", "/out", "repo")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[4], runs[0].ID, "newest first")
	assert.Equal(t, ids[2], runs[2].ID)

	n, err := s.Prune(ctx, base.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	runs, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestPruneCascadesProjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Start(ctx, "a", "b", "/out", "repo")
	require.NoError(t, err)
	require.NoError(t, s.RecordProject(ctx, id, Skipped("P", nil)))

	_, err = s.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM project_result;").Scan(&count))
	assert.Zero(t, count)
}

func TestWrittenDigests(t *testing.T) {
	dir := t.TempDir()
	res := surface.Result{Project: "UnityEngine", Added: []string{"M:A.B"}, Removed: []string{}}
	arts, err := surface.WriteArtifacts(dir, res)
	require.NoError(t, err)

	pr, err := Written(res, arts)
	require.NoError(t, err)
	assert.Equal(t, ProjectWritten, pr.Status)
	assert.Equal(t, 1, pr.AddedCount)
	assert.Equal(t, 0, pr.RemovedCount)
	assert.Len(t, pr.AddedDigest, 64)
	assert.Len(t, pr.RemovedDigest, 64)
	assert.NotEqual(t, pr.AddedDigest, pr.RemovedDigest)

	again, err := Digest(arts.AddedPath)
	require.NoError(t, err)
	assert.Equal(t, pr.AddedDigest, again)

	require.NoError(t, os.Remove(arts.RemovedPath))
	_, err = Written(res, arts)
	assert.Error(t, err)
}
