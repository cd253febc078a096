package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Store is a filesystem-backed scratch root. The root is created lazily on
// first use and removed by Dispose.
type Store struct {
	root string
	now  func() time.Time

	mu         sync.Mutex
	disposed   bool
	once       sync.Once
	disposeErr error
}

var _ Manager = (*Store)(nil)

// New creates a Store rooted at root. Nothing is created on disk until the
// first call to Dir.
func New(root string) (*Store, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}

	abs, err := filepath.Abs(filepath.Clean(trimmed))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %q: %w", root, err)
	}
	if abs == filepath.Dir(abs) {
		return nil, fmt.Errorf("workspace root %q must not be a filesystem root", root)
	}

	return &Store{
		root: abs,
		now:  time.Now,
	}, nil
}

// NewTemp creates a Store under a fresh directory in the system temp dir.
func NewTemp(pattern string) (*Store, error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp workspace: %w", err)
	}
	return New(dir)
}

func (s *Store) Root() string { return s.root }

// Dir is idempotent: the same name always resolves to the same path.
func (s *Store) Dir(ctx context.Context, name string) (Directory, error) {
	if err := ctx.Err(); err != nil {
		return Directory{}, err
	}
	if err := s.checkLive(); err != nil {
		return Directory{}, err
	}

	path, err := s.dirPath(name)
	if err != nil {
		return Directory{}, err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Directory{}, fmt.Errorf("create workspace directory %q: %w", name, err)
	}

	return Directory{Name: name, Dir: path}, nil
}

// Open returns an existing directory without creating it.
func (s *Store) Open(ctx context.Context, name string) (Directory, error) {
	if err := ctx.Err(); err != nil {
		return Directory{}, err
	}
	if err := s.checkLive(); err != nil {
		return Directory{}, err
	}

	path, err := s.dirPath(name)
	if err != nil {
		return Directory{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Directory{}, fmt.Errorf("open workspace directory %q: %w", name, err)
	}
	if !info.IsDir() {
		return Directory{}, fmt.Errorf("workspace path for %q is not a directory", name)
	}

	return Directory{Name: name, Dir: path}, nil
}

// Cleanup removes subdirectories whose modification time is older than
// olderThan. Used when the root is persistent and a previous run was killed
// before it could dispose.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace directory %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

// Dispose removes the root and everything below it. Later calls return the
// result of the first one.
func (s *Store) Dispose() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.disposed = true
		s.mu.Unlock()

		if err := os.RemoveAll(s.root); err != nil {
			s.disposeErr = fmt.Errorf("dispose workspace %q: %w", s.root, err)
			return
		}
		if _, err := os.Stat(s.root); !errors.Is(err, os.ErrNotExist) {
			s.disposeErr = fmt.Errorf("dispose workspace %q: root still present", s.root)
		}
	})
	return s.disposeErr
}

func (s *Store) checkLive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return fmt.Errorf("workspace %q already disposed", s.root)
	}
	return nil
}

func (s *Store) dirPath(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("workspace directory name is empty")
	}
	if trimmed != name {
		return fmt.Errorf("workspace directory name %q has surrounding whitespace", name)
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("workspace directory name %q is invalid", name)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("workspace directory name %q must not contain path separators", name)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("workspace directory name %q is invalid", name)
	}
	return nil
}
