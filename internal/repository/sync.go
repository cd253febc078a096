// Package repository keeps one local git mirror of the reference source tree
// and moves its working copy between release tags.
//
// A Sync owns its working directory. Checkout rewrites the whole tree, so a
// caller must not read the tree while another checkout on the same Sync is in
// progress; Use holds the instance lock across checkout and consumption for
// callers that want that enforced. Concurrent processes are kept apart with a
// lock file next to the mirror (see Acquire).
package repository

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yucchiy/UnityApiAnalyzer/internal/lock"
	"github.com/yucchiy/UnityApiAnalyzer/internal/log"
	"github.com/yucchiy/UnityApiAnalyzer/internal/version"
)

// DefaultRemote is the remote name used for clone and fetch.
const DefaultRemote = "origin"

const partialSuffix = ".partial"

// State is the last transition the mirror went through.
type State int

const (
	Uninitialized State = iota
	Cloned
	Fetched
	CheckedOut
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Cloned:
		return "cloned"
	case Fetched:
		return "fetched"
	case CheckedOut:
		return "checked_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sync wraps exactly one local mirror bound to one remote URL and one
// directory.
type Sync struct {
	url    string
	dir    string
	remote string
	runner Runner
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	current *version.Version
	dirLock *lock.DirLock
}

// Option configures a Sync.
type Option func(*Sync)

// WithRunner replaces the git runner.
func WithRunner(r Runner) Option {
	return func(s *Sync) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sync) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRemote sets the remote name (default "origin").
func WithRemote(name string) Option {
	return func(s *Sync) {
		if name != "" {
			s.remote = name
		}
	}
}

// New binds a Sync to url and dir. Nothing touches the disk or network until
// EnsureCloned.
func New(url, dir string, opts ...Option) (*Sync, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("repository url is empty")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("repository directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve repository directory %q: %w", dir, err)
	}

	s := &Sync{
		url:    url,
		dir:    abs,
		remote: DefaultRemote,
		runner: NewExecRunner(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithComponent("repository")
	}
	return s, nil
}

// Dir is the working tree path.
func (s *Sync) Dir() string { return s.dir }

// URL is the bound remote URL.
func (s *Sync) URL() string { return s.url }

// State returns the last transition.
func (s *Sync) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the version last checked out by this instance.
func (s *Sync) Current() (version.Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return version.Version{}, false
	}
	return *s.current, true
}

// Acquire takes the cross-process lock guarding the mirror directory. Release
// it with Close.
func (s *Sync) Acquire(owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirLock != nil {
		return nil
	}
	l, err := lock.AcquireDir(s.dir, owner)
	if err != nil {
		return fmt.Errorf("lock repository mirror: %w", err)
	}
	s.dirLock = l
	s.logger.Debug("acquired mirror lock", "path", l.Path())
	return nil
}

// Close releases the mirror lock if held.
func (s *Sync) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirLock == nil {
		return nil
	}
	err := s.dirLock.Release()
	s.dirLock = nil
	return err
}

// EnsureCloned makes sure dir holds a valid clone of the remote. An existing
// mirror is reused only when dir is its own work tree root and its remote URL
// matches. Otherwise a full clone is made into a sibling
// ".partial" directory and renamed into place, so an interrupted clone never
// leaves dir looking valid.
func (s *Sync) EnsureCloned(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Uninitialized {
		return nil
	}

	valid, err := s.isValidMirror(ctx)
	if err != nil {
		return err
	}
	if valid {
		s.logger.Info("reusing existing mirror", "dir", s.dir)
		s.state = Cloned
		return nil
	}

	partial := s.dir + partialSuffix
	if err := os.RemoveAll(partial); err != nil {
		return fmt.Errorf("remove stale partial clone: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.dir), 0o755); err != nil {
		return fmt.Errorf("create mirror parent directory: %w", err)
	}

	s.logger.Info("cloning", "url", s.url, "dir", s.dir)
	start := time.Now()
	if _, err := s.runner.Run(ctx, filepath.Dir(s.dir), "clone", "--origin", s.remote, "--", s.url, partial); err != nil {
		_ = os.RemoveAll(partial)
		return classifyRemote("clone", s.url, err)
	}

	if err := os.RemoveAll(s.dir); err != nil {
		_ = os.RemoveAll(partial)
		return fmt.Errorf("remove invalid mirror directory: %w", err)
	}
	if err := os.Rename(partial, s.dir); err != nil {
		_ = os.RemoveAll(partial)
		return fmt.Errorf("move clone into place: %w", err)
	}

	s.logger.Info("cloned", "dir", s.dir, "duration", time.Since(start).Round(time.Millisecond))
	s.state = Cloned
	return nil
}

// isValidMirror reports whether dir is itself the top of a work tree whose
// remote points at the bound URL. When dir/.git is broken git walks up to an
// enclosing repository; that repository must never be taken for the mirror.
func (s *Sync) isValidMirror(ctx context.Context) (bool, error) {
	info, err := os.Stat(filepath.Join(s.dir, ".git"))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect mirror: %w", err)
	}
	if !info.IsDir() {
		return false, nil
	}

	out, err := s.runner.Run(ctx, s.dir, "rev-parse", "--show-toplevel")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		s.logger.Warn("existing mirror is not a valid work tree, recloning", "dir", s.dir, "error", err)
		return false, nil
	}
	if top := strings.TrimSpace(string(out)); !samePath(top, s.dir) {
		s.logger.Warn("existing mirror resolves to an enclosing repository, recloning",
			"dir", s.dir, "toplevel", top)
		return false, nil
	}

	out, err = s.runner.Run(ctx, s.dir, "remote", "get-url", s.remote)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		s.logger.Warn("existing mirror has no usable remote, recloning",
			"dir", s.dir, "remote", s.remote, "error", err)
		return false, nil
	}
	if got := strings.TrimSpace(string(out)); !sameRemote(got, s.url) {
		s.logger.Warn("existing mirror tracks a different repository, recloning",
			"dir", s.dir, "remote_url", got, "want", s.url)
		return false, nil
	}
	return true, nil
}

// samePath compares two directories after resolving symlinks.
func samePath(a, b string) bool {
	return resolveDir(a) == resolveDir(b)
}

func resolveDir(p string) string {
	p = filepath.Clean(filepath.FromSlash(p))
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}

// sameRemote compares clone URLs, ignoring a trailing slash or ".git".
func sameRemote(a, b string) bool {
	norm := func(u string) string {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		return strings.TrimSuffix(u, ".git")
	}
	return norm(a) == norm(b)
}

// Fetch updates remote-tracking refs and tags. It may be called any number of
// times. A transport failure is returned as *NetworkError and leaves the
// mirror unchanged.
func (s *Sync) Fetch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Uninitialized {
		return ErrNotCloned
	}

	s.logger.Info("fetching", "remote", s.remote)
	start := time.Now()
	if _, err := s.runner.Run(ctx, s.dir, "fetch", "--tags", "--force", "--prune", s.remote); err != nil {
		return classifyRemote("fetch", s.url, err)
	}
	s.logger.Info("fetched", "duration", time.Since(start).Round(time.Millisecond))

	if s.state != CheckedOut {
		s.state = Fetched
	}
	return nil
}

// Versions lists the tags that parse as versions in canonical spelling,
// recomputed from the current tag set on every call. Other tags are skipped;
// that is not an error.
// The returned sequence is lazy and can be ranged over more than once.
func (s *Sync) Versions(ctx context.Context) (iter.Seq[version.Version], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := s.tagsLocked(ctx)
	if err != nil {
		return nil, err
	}

	return func(yield func(version.Version) bool) {
		for _, tag := range tags {
			v, err := version.Parse(tag)
			// Checkout resolves refs/tags/<v.String()>, so a tag spelled
			// differently (e.g. "2022.03.5f1") could never be checked out.
			if err != nil || v.String() != tag {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}, nil
}

// HasVersion reports whether a tag for v is present.
func (s *Sync) HasVersion(ctx context.Context, v version.Version) (bool, error) {
	seq, err := s.Versions(ctx)
	if err != nil {
		return false, err
	}
	for candidate := range seq {
		if candidate == v {
			return true, nil
		}
	}
	return false, nil
}

func (s *Sync) tagsLocked(ctx context.Context) ([]string, error) {
	if s.state == Uninitialized {
		return nil, ErrNotCloned
	}
	out, err := s.runner.Run(ctx, s.dir, "tag", "--list")
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	var tags []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if tag := strings.TrimSpace(sc.Text()); tag != "" {
			tags = append(tags, tag)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tag list: %w", err)
	}
	return tags, nil
}

// Checkout force-checks-out refs/tags/<v>, discarding local modifications and
// untracked files. A missing tag yields ErrVersionNotFound; any other failure
// is a *CheckoutError. Callers must serialize Checkout against readers of the
// working tree; see Use.
func (s *Sync) Checkout(ctx context.Context, v version.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkoutLocked(ctx, v)
}

// Use checks out v and runs fn with the working tree path while holding the
// instance lock, so no other checkout through this Sync can interleave.
func (s *Sync) Use(ctx context.Context, v version.Version, fn func(dir string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkoutLocked(ctx, v); err != nil {
		return err
	}
	return fn(s.dir)
}

func (s *Sync) checkoutLocked(ctx context.Context, v version.Version) error {
	if s.state == Uninitialized {
		return ErrNotCloned
	}

	ref := "refs/tags/" + v.String()
	s.logger.Info("checking out version", "version", v.String())

	out, err := s.runner.Run(ctx, s.dir, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var gerr *GitError
		if errors.As(err, &gerr) && gerr.ExitCode == 1 {
			return fmt.Errorf("%w: %s", ErrVersionNotFound, v)
		}
		return &CheckoutError{Version: v, Step: "resolve", Err: err}
	}
	want := strings.TrimSpace(string(out))

	// Any failure past this point may leave a half-written tree.
	s.current = nil

	if _, err := s.runner.Run(ctx, s.dir, "checkout", "--force", "--detach", ref); err != nil {
		return &CheckoutError{Version: v, Step: "checkout", Err: err}
	}
	if _, err := s.runner.Run(ctx, s.dir, "clean", "-ffdx", "--quiet"); err != nil {
		return &CheckoutError{Version: v, Step: "clean", Err: err}
	}

	head, err := s.runner.Run(ctx, s.dir, "rev-parse", "HEAD")
	if err != nil {
		return &CheckoutError{Version: v, Step: "verify", Err: err}
	}
	if got := strings.TrimSpace(string(head)); got != want {
		return &CheckoutError{Version: v, Step: "verify", Err: fmt.Errorf("HEAD is %s, want %s", got, want)}
	}

	cur := v
	s.current = &cur
	s.state = CheckedOut
	s.logger.Info("checked out version", "version", v.String(), "commit", want)
	return nil
}

// Head returns the commit the working tree is at.
func (s *Sync) Head(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Uninitialized {
		return "", ErrNotCloned
	}
	out, err := s.runner.Run(ctx, s.dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
