package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another process (or another handle in this one)
// already owns the lock.
var ErrHeld = errors.New("lock is held by another owner")

// DirLock gives one owner exclusive use of a directory, typically a git
// mirror whose working tree is rewritten by every checkout. It is a sibling
// "<dir>.lock" file held with flock(2); the lock lives as long as the file
// descriptor stays open.
type DirLock struct {
	path string
	f    *os.File
}

// PathFor returns the lock file path guarding dir.
func PathFor(dir string) string {
	return filepath.Clean(dir) + ".lock"
}

// AcquireDir takes the lock guarding dir without blocking. The current PID and
// owner label are written into the lock file for diagnostics.
func AcquireDir(dir, owner string) (*DirLock, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("lock directory is empty")
	}
	return acquire(PathFor(dir), owner)
}

func acquire(lockPath, owner string) (*DirLock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			holder, _ := ReadHolder(lockPath)
			return nil, fmt.Errorf("%w: %s (holder: %s)", ErrHeld, lockPath, holder)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	release := func(cause error) (*DirLock, error) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, cause
	}

	if err := f.Truncate(0); err != nil {
		return release(fmt.Errorf("truncate lock file: %w", err))
	}
	if _, err := f.Seek(0, 0); err != nil {
		return release(fmt.Errorf("seek lock file: %w", err))
	}
	if _, err := fmt.Fprintf(f, "%d %s\n", os.Getpid(), owner); err != nil {
		return release(fmt.Errorf("write lock owner: %w", err))
	}
	if err := f.Sync(); err != nil {
		return release(fmt.Errorf("sync lock file: %w", err))
	}

	return &DirLock{path: lockPath, f: f}, nil
}

// ReadHolder returns the "<pid> <owner>" line of a lock file.
func ReadHolder(lockPath string) (string, error) {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(b))
	if line == "" {
		return "unknown", nil
	}
	return line, nil
}

// HolderPID parses the PID from a lock file written by AcquireDir.
func HolderPID(lockPath string) (int, error) {
	line, err := ReadHolder(lockPath)
	if err != nil {
		return 0, err
	}
	pid, _, _ := strings.Cut(line, " ")
	return strconv.Atoi(pid)
}

func (l *DirLock) Path() string { return l.path }

// Release drops the lock. It is safe to call more than once.
func (l *DirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
