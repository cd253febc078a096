package analyzer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yucchiy/UnityApiAnalyzer/internal/repository"
	"github.com/yucchiy/UnityApiAnalyzer/internal/runlog"
	"github.com/yucchiy/UnityApiAnalyzer/internal/surface"
	"github.com/yucchiy/UnityApiAnalyzer/internal/surface/mocks"
	"github.com/yucchiy/UnityApiAnalyzer/internal/version"
)

// fakeMirror records the calls the analyzer makes and hands out one
// directory per version.
type fakeMirror struct {
	tags       []string
	cloneErr   error
	fetchErr   error
	calls      []string
	checkedOut []string
}

func (m *fakeMirror) URL() string { return "https://example.com/ref.git" }

func (m *fakeMirror) EnsureCloned(context.Context) error {
	m.calls = append(m.calls, "clone")
	return m.cloneErr
}

func (m *fakeMirror) Fetch(context.Context) error {
	m.calls = append(m.calls, "fetch")
	return m.fetchErr
}

func (m *fakeMirror) Versions(context.Context) (iter.Seq[version.Version], error) {
	return func(yield func(version.Version) bool) {
		for _, tag := range m.tags {
			v, err := version.Parse(tag)
			if err != nil {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}, nil
}

func (m *fakeMirror) HasVersion(_ context.Context, v version.Version) (bool, error) {
	return slices.Contains(m.tags, v.String()), nil
}

func (m *fakeMirror) Use(_ context.Context, v version.Version, fn func(string) error) error {
	m.calls = append(m.calls, "use "+v.String())
	m.checkedOut = append(m.checkedOut, v.String())
	return fn("/mirror/" + v.String())
}

type fakeRecorder struct {
	started  int
	projects []runlog.ProjectResult
	finished error
	finishes int
}

func (r *fakeRecorder) Start(context.Context, string, string, string, string) (string, error) {
	r.started++
	return "run-1", nil
}

func (r *fakeRecorder) RecordProject(_ context.Context, runID string, p runlog.ProjectResult) error {
	r.projects = append(r.projects, p)
	return nil
}

func (r *fakeRecorder) Finish(_ context.Context, _ string, runErr error) error {
	r.finishes++
	r.finished = runErr
	return nil
}

func snap(projects ...surface.Project) *surface.Snapshot {
	return &surface.Snapshot{Projects: projects}
}

func proj(name string, ids ...string) surface.Project {
	members := make([]surface.Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, surface.Member{Kind: surface.MemberKind(id[:1]), ID: id})
	}
	return surface.Project{Name: name, Types: []surface.Type{{Declaration: "T:X", Members: members}}}
}

func readLines(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCheckSupported(t *testing.T) {
	assert.NoError(t, CheckSupported(version.MustParse("2022.1.0a1"), 2022))
	assert.NoError(t, CheckSupported(version.MustParse("6000.0.1f1"), 2022))

	err := CheckSupported(version.MustParse("2021.3.20f1"), 2022)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Contains(t, err.Error(), "2021.3.20f1")
}

func TestMinSupportedMajorCannotBeLowered(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2021.3.5f1", "2022.3.5f1"}}

	a, err := New(mirror, ext, []string{"UnityEngine"}, WithMinSupportedMajor(2020))
	require.NoError(t, err)
	_, err = a.Run(context.Background(), Request{A: "2021.3.5f1", B: "2022.3.5f1", OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Empty(t, mirror.calls)

	a, err = New(mirror, ext, []string{"UnityEngine"}, WithMinSupportedMajor(2023))
	require.NoError(t, err)
	_, err = a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.5f1", OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestNewValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)

	_, err := New(nil, ext, []string{"UnityEngine"})
	assert.Error(t, err)
	_, err = New(&fakeMirror{}, nil, []string{"UnityEngine"})
	assert.Error(t, err)
	_, err = New(&fakeMirror{}, ext, nil)
	assert.Error(t, err)
}

func TestRunWritesArtifactsPerProject(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1", "2023.1.0a2"}}
	rec := &fakeRecorder{}

	gomock.InOrder(
		ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").Return(snap(
			proj("UnityEngine", "M:UnityEngine.A.Foo", "M:UnityEngine.A.Bar"),
			proj("UnityEditor", "T:UnityEditor.Old"),
		), nil),
		ext.EXPECT().Extract(gomock.Any(), "/mirror/2023.1.0a2").Return(snap(
			proj("UnityEngine", "M:UnityEngine.A.Foo", "M:UnityEngine.A.Baz"),
			proj("UnityEditor", "T:UnityEditor.Old"),
		), nil),
	)

	a, err := New(mirror, ext, []string{"UnityEngine", "UnityEditor"}, WithRecorder(rec))
	require.NoError(t, err)

	out := t.TempDir()
	report, err := a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2023.1.0a2", OutputDir: out})
	require.NoError(t, err)

	assert.Equal(t, []string{"clone", "fetch", "use 2022.3.5f1", "use 2023.1.0a2"}, mirror.calls)
	assert.Equal(t, "run-1", report.RunID)
	require.Len(t, report.Projects, 2)
	assert.Equal(t, 2, report.Written())

	engine := report.Projects[0]
	assert.Equal(t, []string{"M:UnityEngine.A.Baz"}, engine.Result.Added)
	assert.Equal(t, []string{"M:UnityEngine.A.Bar"}, engine.Result.Removed)
	assert.Equal(t, filepath.Join(out, "UnityEngine_added.txt"), engine.Artifacts.AddedPath)
	assert.Equal(t, "M:UnityEngine.A.Baz\n", readLines(t, engine.Artifacts.AddedPath))
	assert.Equal(t, "M:UnityEngine.A.Bar\n", readLines(t, engine.Artifacts.RemovedPath))
	assert.Empty(t, engine.UnifiedPath)

	editor := report.Projects[1]
	assert.True(t, editor.Result.Empty())
	assert.Equal(t, "", readLines(t, editor.Artifacts.AddedPath))

	assert.Equal(t, 1, rec.started)
	assert.Equal(t, 1, rec.finishes)
	assert.NoError(t, rec.finished)
	require.Len(t, rec.projects, 2)
	assert.Equal(t, runlog.ProjectWritten, rec.projects[0].Status)
	assert.Equal(t, 1, rec.projects[0].AddedCount)
	assert.NotEmpty(t, rec.projects[0].AddedDigest)
}

func TestRunSkipsMissingProject(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1", "2022.3.6f1"}}
	rec := &fakeRecorder{}

	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").
		Return(snap(proj("UnityEngine", "M:A.B"), proj("UnityEditor", "M:C.D")), nil)
	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.6f1").
		Return(snap(proj("UnityEngine", "M:A.B")), nil)

	a, err := New(mirror, ext, []string{"UnityEngine", "UnityEditor"}, WithRecorder(rec))
	require.NoError(t, err)

	out := t.TempDir()
	report, err := a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.6f1", OutputDir: out})
	require.NoError(t, err)

	require.Len(t, report.Projects, 2)
	assert.False(t, report.Projects[0].Skipped())
	assert.True(t, report.Projects[1].Skipped())
	assert.ErrorIs(t, report.Projects[1].SkipReason, surface.ErrProjectNotFound)
	assert.Equal(t, 1, report.Written())

	_, err = os.Stat(filepath.Join(out, "UnityEditor_added.txt"))
	assert.True(t, os.IsNotExist(err))

	require.Len(t, rec.projects, 2)
	assert.Equal(t, runlog.ProjectSkipped, rec.projects[1].Status)
	assert.Contains(t, rec.projects[1].Detail, "UnityEditor")
}

func TestRunSameVersionExtractsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1"}}

	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").
		Return(snap(proj("UnityEngine", "M:A.B", "M:A.C")), nil).Times(1)

	a, err := New(mirror, ext, []string{"UnityEngine"})
	require.NoError(t, err)

	report, err := a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.5f1", OutputDir: t.TempDir()})
	require.NoError(t, err)
	require.Len(t, report.Projects, 1)
	assert.True(t, report.Projects[0].Result.Empty())
	assert.Equal(t, []string{"2022.3.5f1"}, mirror.checkedOut)
}

func TestRunUnifiedListing(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1", "2022.3.6f1"}}

	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").Return(snap(proj("UnityEngine", "M:A.Old")), nil)
	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.6f1").Return(snap(proj("UnityEngine", "M:A.New")), nil)

	a, err := New(mirror, ext, []string{"UnityEngine"}, WithContextLines(1))
	require.NoError(t, err)

	out := t.TempDir()
	report, err := a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.6f1", OutputDir: out, Unified: true})
	require.NoError(t, err)

	path := report.Projects[0].UnifiedPath
	require.NotEmpty(t, path)
	body := readLines(t, path)
	assert.Contains(t, body, "-M:A.Old")
	assert.Contains(t, body, "+M:A.New")
}

func TestRunRejectsBeforeTouchingMirror(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"malformed a", Request{A: "2022.3", B: "2022.3.5f1", OutputDir: "x"}, nil},
		{"malformed b", Request{A: "2022.3.5f1", B: "latest", OutputDir: "x"}, nil},
		{"unsupported a", Request{A: "2021.3.5f1", B: "2022.3.5f1", OutputDir: "x"}, ErrUnsupportedVersion},
		{"unsupported b", Request{A: "2022.3.5f1", B: "2019.4.1f1", OutputDir: "x"}, ErrUnsupportedVersion},
		{"no output dir", Request{A: "2022.3.5f1", B: "2022.3.6f1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			ext := mocks.NewMockExtractor(ctrl)
			mirror := &fakeMirror{}
			rec := &fakeRecorder{}

			a, err := New(mirror, ext, []string{"UnityEngine"}, WithRecorder(rec))
			require.NoError(t, err)

			_, err = a.Run(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Empty(t, mirror.calls)
			assert.Zero(t, rec.started)
		})
	}
}

func TestRunMissingVersion(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1"}}
	rec := &fakeRecorder{}

	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").Return(snap(proj("UnityEngine")), nil)

	a, err := New(mirror, ext, []string{"UnityEngine"}, WithRecorder(rec))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.99f1", OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrVersionNotFound)
	assert.Contains(t, err.Error(), "2022.3.99f1")
	assert.ErrorIs(t, rec.finished, repository.ErrVersionNotFound)
}

func TestRunSyncFailureAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	netErr := &repository.NetworkError{Op: "fetch", URL: "u", Err: errors.New("could not resolve host")}
	mirror := &fakeMirror{fetchErr: netErr}
	rec := &fakeRecorder{}

	a, err := New(mirror, ext, []string{"UnityEngine"}, WithRecorder(rec))
	require.NoError(t, err)

	out := t.TempDir()
	_, err = a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.6f1", OutputDir: out})
	require.Error(t, err)
	var ne *repository.NetworkError
	assert.ErrorAs(t, err, &ne)
	assert.Equal(t, 1, rec.finishes)
	assert.Error(t, rec.finished)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries, "no artifacts on failure")
}

func TestRunExtractionFailureAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1", "2022.3.6f1"}}

	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").Return(nil, context.Canceled)

	a, err := New(mirror, ext, []string{"UnityEngine"})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.6f1", OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"2022.3.5f1"}, mirror.checkedOut)
}

func TestRunSkipsProjectReportedAsExtractionError(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1", "2022.3.6f1"}}
	rec := &fakeRecorder{}

	buildErr := errors.New("build errors")
	gomock.InOrder(
		ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").
			Return(snap(proj("UnityEngine", "M:A.B")), &surface.ExtractionError{Project: "UnityEditor", Err: buildErr}),
		ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.6f1").
			Return(snap(proj("UnityEngine", "M:A.B", "M:A.C"), proj("UnityEditor", "M:E.F")), nil),
	)

	a, err := New(mirror, ext, []string{"UnityEngine", "UnityEditor"}, WithRecorder(rec))
	require.NoError(t, err)

	out := t.TempDir()
	report, err := a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.6f1", OutputDir: out})
	require.NoError(t, err)
	require.Len(t, report.Projects, 2)
	assert.Equal(t, 1, report.Written())

	engine := report.Projects[0]
	assert.False(t, engine.Skipped())
	assert.Equal(t, "M:A.C\n", readLines(t, filepath.Join(out, "UnityEngine_added.txt")))

	editor := report.Projects[1]
	require.True(t, editor.Skipped())
	var xerr *surface.ExtractionError
	require.ErrorAs(t, editor.SkipReason, &xerr)
	assert.Equal(t, "UnityEditor", xerr.Project)
	assert.ErrorIs(t, editor.SkipReason, buildErr)
	assert.ErrorIs(t, editor.SkipReason, surface.ErrProjectNotFound)
	assert.NoFileExists(t, filepath.Join(out, "UnityEditor_added.txt"))

	require.Len(t, rec.projects, 2)
	assert.Equal(t, runlog.ProjectSkipped, rec.projects[1].Status)
	assert.Contains(t, rec.projects[1].Detail, "build errors")
	assert.NoError(t, rec.finished)
}

func TestRunAcceptsJoinedExtractionErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1"}}

	joined := errors.Join(
		&surface.ExtractionError{Project: "UnityEditor", Err: errors.New("no sources")},
		&surface.ExtractionError{Project: "UnityEngine", Err: errors.New("no sources")},
	)
	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").Return(snap(), joined)

	a, err := New(mirror, ext, []string{"UnityEngine", "UnityEditor"})
	require.NoError(t, err)

	report, err := a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.5f1", OutputDir: t.TempDir()})
	require.NoError(t, err)
	require.Len(t, report.Projects, 2)
	assert.Equal(t, 0, report.Written())
}

func TestRunExtractionErrorWithoutSnapshotAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{"2022.3.5f1", "2022.3.6f1"}}

	mixed := errors.Join(
		&surface.ExtractionError{Project: "UnityEditor", Err: errors.New("no sources")},
		errors.New("disk failure"),
	)
	ext.EXPECT().Extract(gomock.Any(), "/mirror/2022.3.5f1").
		Return(nil, &surface.ExtractionError{Project: "UnityEditor", Err: errors.New("no sources")})

	a, err := New(mirror, ext, []string{"UnityEngine"})
	require.NoError(t, err)
	_, err = a.Run(context.Background(), Request{A: "2022.3.5f1", B: "2022.3.6f1", OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract 2022.3.5f1")

	assert.Nil(t, extractionErrors(mixed))
	assert.Len(t, extractionErrors(fmt.Errorf("wrapped: %w", &surface.ExtractionError{Project: "A"})), 1)
}

func TestAvailableVersions(t *testing.T) {
	ctrl := gomock.NewController(t)
	ext := mocks.NewMockExtractor(ctrl)
	mirror := &fakeMirror{tags: []string{
		"2023.1.0a2", "release-notes", "2021.3.5f1", "2022.3.5f1", "2022.3.10f1", "2022.3.5f1",
	}}

	a, err := New(mirror, ext, []string{"UnityEngine"})
	require.NoError(t, err)

	got, err := a.AvailableVersions(context.Background(), 2022)
	require.NoError(t, err)

	var names []string
	for _, v := range got {
		names = append(names, v.String())
	}
	assert.Equal(t, []string{"2022.3.5f1", "2022.3.10f1", "2023.1.0a2"}, names)
	assert.Equal(t, []string{"clone", "fetch"}, mirror.calls)
}
