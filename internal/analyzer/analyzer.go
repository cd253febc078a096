// Package analyzer drives one comparison: it checks the requested versions
// against policy, syncs the mirror once, extracts a snapshot per version
// sequentially and writes the per-project added/removed artifacts.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/yucchiy/UnityApiAnalyzer/internal/log"
	"github.com/yucchiy/UnityApiAnalyzer/internal/repository"
	"github.com/yucchiy/UnityApiAnalyzer/internal/runlog"
	"github.com/yucchiy/UnityApiAnalyzer/internal/surface"
	"github.com/yucchiy/UnityApiAnalyzer/internal/version"
)

// DefaultMinSupportedMajor is the oldest major release the analyzer accepts.
const DefaultMinSupportedMajor = 2022

// ErrUnsupportedVersion means a version is older than the supported range.
var ErrUnsupportedVersion = errors.New("unsupported version")

// CheckSupported rejects versions whose major is below minMajor.
func CheckSupported(v version.Version, minMajor int) error {
	if v.Major < minMajor {
		return fmt.Errorf("%w: %s (versions before %d are not supported)", ErrUnsupportedVersion, v, minMajor)
	}
	return nil
}

// Mirror is the part of repository.Sync the analyzer drives.
type Mirror interface {
	URL() string
	EnsureCloned(ctx context.Context) error
	Fetch(ctx context.Context) error
	Versions(ctx context.Context) (iter.Seq[version.Version], error)
	HasVersion(ctx context.Context, v version.Version) (bool, error)
	Use(ctx context.Context, v version.Version, fn func(dir string) error) error
}

var _ Mirror = (*repository.Sync)(nil)

// Recorder persists run history. *runlog.Store implements it.
type Recorder interface {
	Start(ctx context.Context, versionA, versionB, outputDir, repository string) (string, error)
	RecordProject(ctx context.Context, runID string, r runlog.ProjectResult) error
	Finish(ctx context.Context, runID string, runErr error) error
}

var _ Recorder = (*runlog.Store)(nil)

// Analyzer compares the public surface of two versions.
type Analyzer struct {
	mirror       Mirror
	extractor    surface.Extractor
	projects     []string
	recorder     Recorder
	minMajor     int
	contextLines int
	syncTimeout  time.Duration
	logger       *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRecorder records every run.
func WithRecorder(r Recorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

// WithMinSupportedMajor raises the oldest accepted major. Values below
// DefaultMinSupportedMajor are ignored.
func WithMinSupportedMajor(major int) Option {
	return func(a *Analyzer) {
		if major >= DefaultMinSupportedMajor {
			a.minMajor = major
		}
	}
}

// WithContextLines sets the context of unified listings.
func WithContextLines(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.contextLines = n
		}
	}
}

// WithSyncTimeout bounds clone plus fetch. Zero means no bound.
func WithSyncTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.syncTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// New builds an Analyzer that diffs the named projects.
func New(mirror Mirror, extractor surface.Extractor, projects []string, opts ...Option) (*Analyzer, error) {
	if mirror == nil {
		return nil, fmt.Errorf("mirror is nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor is nil")
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("no projects to compare")
	}

	a := &Analyzer{
		mirror:       mirror,
		extractor:    extractor,
		projects:     slices.Clone(projects),
		minMajor:     DefaultMinSupportedMajor,
		contextLines: 3,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.WithComponent("analyzer")
	}
	return a, nil
}

// Request names the two versions to compare. A is "before" and B "after".
type Request struct {
	A         string
	B         string
	OutputDir string
	// Unified also writes a "{project}.diff" listing per project.
	Unified bool
}

// Report is the outcome of a run.
type Report struct {
	RunID    string
	A        version.Version
	B        version.Version
	Projects []ProjectReport
}

// ProjectReport is the outcome for one project.
type ProjectReport struct {
	Project     string
	Result      surface.Result
	Artifacts   surface.Artifacts
	UnifiedPath string
	// SkipReason is set when no artifacts were written.
	SkipReason error
}

// Skipped reports whether the project produced no artifacts.
func (p ProjectReport) Skipped() bool { return p.SkipReason != nil }

// Written counts the projects that produced artifacts.
func (r *Report) Written() int {
	n := 0
	for _, p := range r.Projects {
		if !p.Skipped() {
			n++
		}
	}
	return n
}

// Run performs one comparison. Both versions are validated before any
// repository work happens. Versions are extracted one after the other
// against the single mirror. A project missing from either snapshot, or
// reported by the extractor as failed, is logged and skipped; every other
// failure aborts the run.
func (a *Analyzer) Run(ctx context.Context, req Request) (*Report, error) {
	va, err := version.Parse(req.A)
	if err != nil {
		return nil, err
	}
	vb, err := version.Parse(req.B)
	if err != nil {
		return nil, err
	}
	for _, v := range []version.Version{va, vb} {
		if err := CheckSupported(v, a.minMajor); err != nil {
			return nil, err
		}
	}
	if req.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	report := &Report{A: va, B: vb}
	logger := a.logger

	if a.recorder != nil {
		id, err := a.recorder.Start(ctx, va.String(), vb.String(), req.OutputDir, a.mirror.URL())
		if err != nil {
			return nil, fmt.Errorf("record run start: %w", err)
		}
		report.RunID = id
		logger = logger.With(slog.String("run_id", id))
	}

	runErr := a.run(ctx, logger, req, report)

	if a.recorder != nil {
		// The run context may already be cancelled; the outcome is still
		// recorded.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.recorder.Finish(fctx, report.RunID, runErr); err != nil {
			logger.Warn("failed to record run outcome", "error", err)
		}
	}
	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

func (a *Analyzer) run(ctx context.Context, logger *slog.Logger, req Request, report *Report) error {
	start := time.Now()
	logger.Info("analysis started",
		"a", report.A.String(),
		"b", report.B.String(),
		"output_dir", req.OutputDir)

	if err := a.sync(ctx); err != nil {
		return err
	}

	failed := make(map[string]error)
	snapA, err := a.snapshot(ctx, logger, report.A, failed)
	if err != nil {
		return err
	}
	snapB := snapA
	if report.B != report.A {
		snapB, err = a.snapshot(ctx, logger, report.B, failed)
		if err != nil {
			return err
		}
	}

	for _, project := range a.projects {
		pr, err := a.compare(snapA, snapB, project, req)
		if err != nil {
			return err
		}
		if xerr, ok := failed[project]; ok && pr.Skipped() {
			pr.SkipReason = fmt.Errorf("%w: %w", pr.SkipReason, xerr)
		}
		report.Projects = append(report.Projects, pr)

		if pr.Skipped() {
			logger.Error("project skipped", "project", project, "error", pr.SkipReason)
		} else {
			logger.Info("project compared",
				"project", project,
				"added", len(pr.Result.Added),
				"removed", len(pr.Result.Removed),
				"added_path", pr.Artifacts.AddedPath,
				"removed_path", pr.Artifacts.RemovedPath)
		}
		a.recordProject(ctx, logger, report.RunID, pr)
	}

	logger.Info("analysis finished",
		"projects_written", report.Written(),
		"projects_skipped", len(report.Projects)-report.Written(),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// sync clones if needed and fetches exactly once.
func (a *Analyzer) sync(ctx context.Context) error {
	if a.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.syncTimeout)
		defer cancel()
	}
	if err := a.mirror.EnsureCloned(ctx); err != nil {
		return err
	}
	return a.mirror.Fetch(ctx)
}

// snapshot checks v out and extracts it while the mirror is held. Projects
// the extractor reports as *surface.ExtractionError alongside a snapshot are
// logged and added to failed; the run carries on without them.
func (a *Analyzer) snapshot(ctx context.Context, logger *slog.Logger, v version.Version, failed map[string]error) (*surface.Snapshot, error) {
	ok, err := a.mirror.HasVersion(ctx, v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrVersionNotFound, v)
	}

	var snap *surface.Snapshot
	err = a.mirror.Use(ctx, v, func(dir string) error {
		s, err := a.extractor.Extract(ctx, dir)
		if err != nil {
			perProject := extractionErrors(err)
			if s == nil || perProject == nil || ctx.Err() != nil {
				return fmt.Errorf("extract %s: %w", v, err)
			}
			for _, xerr := range perProject {
				logger.Error("project extraction failed, skipping",
					"version", v.String(), "project", xerr.Project, "error", xerr.Err)
				failed[xerr.Project] = xerr
			}
		}
		snap = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("extract %s: extractor returned no snapshot", v)
	}
	snap.Version = v.String()
	return snap, nil
}

// extractionErrors returns the per-project failures in err, or nil if any part
// of err is something else.
func extractionErrors(err error) []*surface.ExtractionError {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*surface.ExtractionError
		for _, e := range joined.Unwrap() {
			sub := extractionErrors(e)
			if sub == nil {
				return nil
			}
			out = append(out, sub...)
		}
		return out
	}
	var xerr *surface.ExtractionError
	if errors.As(err, &xerr) {
		return []*surface.ExtractionError{xerr}
	}
	return nil
}

func (a *Analyzer) compare(snapA, snapB *surface.Snapshot, project string, req Request) (ProjectReport, error) {
	pr := ProjectReport{Project: project}

	res, err := surface.Diff(snapA, snapB, project)
	if errors.Is(err, surface.ErrProjectNotFound) {
		pr.SkipReason = err
		return pr, nil
	}
	if err != nil {
		return pr, err
	}
	pr.Result = res

	arts, err := surface.WriteArtifacts(req.OutputDir, res)
	if err != nil {
		return pr, fmt.Errorf("write artifacts for %q: %w", project, err)
	}
	pr.Artifacts = arts

	if req.Unified {
		body, err := surface.UnifiedListing(snapA, snapB, project, a.contextLines)
		if err != nil {
			return pr, err
		}
		path, err := surface.WriteUnifiedListing(req.OutputDir, project, body)
		if err != nil {
			return pr, fmt.Errorf("write unified listing for %q: %w", project, err)
		}
		pr.UnifiedPath = path
	}
	return pr, nil
}

func (a *Analyzer) recordProject(ctx context.Context, logger *slog.Logger, runID string, pr ProjectReport) {
	if a.recorder == nil {
		return
	}
	var (
		result runlog.ProjectResult
		err    error
	)
	if pr.Skipped() {
		result = runlog.Skipped(pr.Project, pr.SkipReason)
	} else if result, err = runlog.Written(pr.Result, pr.Artifacts); err != nil {
		logger.Warn("failed to digest artifacts", "project", pr.Project, "error", err)
		return
	}
	if err := a.recorder.RecordProject(ctx, runID, result); err != nil {
		logger.Warn("failed to record project result", "project", pr.Project, "error", err)
	}
}

// AvailableVersions syncs the mirror and returns the versions it offers with
// a major of at least minMajor, sorted ascending.
func (a *Analyzer) AvailableVersions(ctx context.Context, minMajor int) ([]version.Version, error) {
	if err := a.sync(ctx); err != nil {
		return nil, err
	}
	seq, err := a.mirror.Versions(ctx)
	if err != nil {
		return nil, err
	}
	var out []version.Version
	for v := range seq {
		if v.Major >= minMajor {
			out = append(out, v)
		}
	}
	version.Sort(out)
	return slices.Compact(out), nil
}
