// Package extract is the default surface.Extractor. It reads the C# reference
// source with tree-sitter and collects the public types and members of each
// configured project.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yucchiy/UnityApiAnalyzer/internal/log"
	"github.com/yucchiy/UnityApiAnalyzer/internal/surface"
)

// DefaultMaxFileSize bounds a single source file. Larger files are skipped.
const DefaultMaxFileSize = 8 << 20

// ErrNoSources means a project's roots contain no C# files.
var ErrNoSources = errors.New("no C# sources found")

// Project selects the sources that make up one named project. Paths are
// relative to the checked-out tree and use forward slashes.
type Project struct {
	Name string
	// Roots are the directories walked for *.cs files.
	Roots []string
	// ExcludeDirs drops any file below a directory with one of these names.
	ExcludeDirs []string
	// RequireDirs, when set, keeps only files below a directory with one of
	// these names.
	RequireDirs []string
}

// Extractor implements surface.Extractor. It is safe for concurrent use but
// only reads the tree it is given while Extract runs.
type Extractor struct {
	projects    []Project
	workers     int
	maxFileSize int64
	logger      *slog.Logger
}

var _ surface.Extractor = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkers bounds the number of files parsed at once. Zero or less means
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(bytes int64) Option {
	return func(e *Extractor) {
		if bytes > 0 {
			e.maxFileSize = bytes
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New returns an Extractor for projects. Project names must be unique and
// every project needs at least one root.
func New(projects []Project, opts ...Option) (*Extractor, error) {
	if len(projects) == 0 {
		return nil, fmt.Errorf("no projects configured")
	}
	seen := make(map[string]bool, len(projects))
	for _, p := range projects {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("project name is empty")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate project %q", p.Name)
		}
		seen[p.Name] = true
		if len(p.Roots) == 0 {
			return nil, fmt.Errorf("project %q has no roots", p.Name)
		}
	}

	e := &Extractor{
		projects:    slices.Clone(projects),
		workers:     runtime.GOMAXPROCS(0),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.WithComponent("extract")
	}
	return e, nil
}

// Projects lists the configured project names.
func (e *Extractor) Projects() []string {
	names := make([]string, len(e.projects))
	for i, p := range e.projects {
		names[i] = p.Name
	}
	return names
}

// Extract builds a snapshot of dir. A project that cannot be extracted is
// left out and reported as a *surface.ExtractionError joined into the
// returned error; the snapshot of the other projects is still returned.
// Cancellation returns no snapshot.
func (e *Extractor) Extract(ctx context.Context, dir string) (*surface.Snapshot, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open source tree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source tree %s is not a directory", dir)
	}

	snap := &surface.Snapshot{}
	var failures []error
	for _, p := range e.projects {
		proj, err := e.extractProject(ctx, dir, p)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failures = append(failures, &surface.ExtractionError{Project: p.Name, Err: err})
			continue
		}
		snap.Projects = append(snap.Projects, proj)
	}
	return snap, errors.Join(failures...)
}

func (e *Extractor) extractProject(ctx context.Context, dir string, p Project) (surface.Project, error) {
	start := time.Now()
	files, err := e.sources(dir, p)
	if err != nil {
		return surface.Project{}, err
	}
	if len(files) == 0 {
		return surface.Project{}, fmt.Errorf("%w under %s", ErrNoSources, strings.Join(p.Roots, ", "))
	}

	results := make([]*fileSurface, len(files))
	var syntaxErrors, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := os.Stat(file)
			if err != nil {
				return fmt.Errorf("stat %s: %w", file, err)
			}
			if info.Size() > e.maxFileSize {
				skipped.Add(1)
				e.logger.Warn("skipping oversized source file", "file", file, "size_bytes", info.Size())
				return nil
			}
			src, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			fsurf, err := parseFile(gctx, src)
			if err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			if fsurf.syntaxErrors {
				syntaxErrors.Add(1)
			}
			results[i] = fsurf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return surface.Project{}, err
	}

	proj := surface.Project{
		Name:  p.Name,
		Path:  strings.Join(p.Roots, ","),
		Types: merge(results),
	}

	e.logger.Info("extracted project",
		"project", p.Name,
		"files", len(files),
		"types", len(proj.Types),
		"members", proj.MemberCount(),
		"syntax_error_files", syntaxErrors.Load(),
		"skipped_files", skipped.Load(),
		"duration", time.Since(start).Round(time.Millisecond))
	return proj, nil
}

// sources lists the project's *.cs files in lexical order.
func (e *Extractor) sources(dir string, p Project) ([]string, error) {
	var files []string
	for _, root := range p.Roots {
		base := filepath.Join(dir, filepath.FromSlash(root))
		if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
			e.logger.Debug("project root missing", "project", p.Name, "root", root)
			continue
		}
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != base {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.EqualFold(filepath.Ext(path), ".cs") {
				return nil
			}
			rel, err := filepath.Rel(dir, filepath.Dir(path))
			if err != nil {
				return err
			}
			if p.selects(strings.Split(filepath.ToSlash(rel), "/")) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// selects applies ExcludeDirs and RequireDirs to the directory segments of a
// file's path.
func (p Project) selects(segments []string) bool {
	required := len(p.RequireDirs) == 0
	for _, s := range segments {
		if slices.Contains(p.ExcludeDirs, s) {
			return false
		}
		if slices.Contains(p.RequireDirs, s) {
			required = true
		}
	}
	return required
}

// merge folds per-file results into one type list. Partial declarations of
// the same type are combined, keeping the first occurrence of each member.
// Order is first appearance across files in the given order.
func merge(results []*fileSurface) []surface.Type {
	var types []surface.Type
	index := make(map[string]int)
	seen := make(map[string]map[string]bool)

	for _, r := range results {
		if r == nil {
			continue
		}
		for _, dt := range r.types {
			i, ok := index[dt.id]
			if !ok {
				i = len(types)
				index[dt.id] = i
				types = append(types, surface.Type{Declaration: dt.id})
				seen[dt.id] = make(map[string]bool)
			}
			for _, m := range dt.members {
				if seen[dt.id][m.ID] {
					continue
				}
				seen[dt.id][m.ID] = true
				types[i].Members = append(types[i].Members, m)
			}
		}
	}
	return types
}
