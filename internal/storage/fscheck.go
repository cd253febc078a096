package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Purpose names what a checked path is used for. It selects the wording and
// the config key suggested when the path is rejected.
type Purpose int

const (
	// RunHistory is the SQLite run log. SQLite file locking is unreliable
	// over network mounts.
	RunHistory Purpose = iota
	// Mirror is the persistent git mirror. Both the mirror flock and git's
	// index.lock need local semantics.
	Mirror
	// Workspace is the scratch root that holds a temporary mirror.
	Workspace
)

func (p Purpose) String() string {
	switch p {
	case RunHistory:
		return "run history database"
	case Mirror:
		return "mirror directory"
	case Workspace:
		return "workspace root"
	default:
		return fmt.Sprintf("purpose(%d)", int(p))
	}
}

func (p Purpose) hint() string {
	switch p {
	case RunHistory:
		return "SQLite requires a local filesystem for reliable locking. Use a local path via state.path (or --state /path/to/local/runs.db)"
	case Mirror:
		return "the mirror lock and git's index locking require a local filesystem. Point repository.dir at a local path"
	case Workspace:
		return "the temporary mirror clone requires a local filesystem. Point workspace.root at a local path"
	default:
		return "a local filesystem is required"
	}
}

// ErrDetectUnsupported means the platform cannot report filesystem types.
// Paths are then assumed to be local.
var ErrDetectUnsupported = errors.New("filesystem detection is unsupported on this platform")

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"afs":    {},
	"ceph":   {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalPath rejects a path that lives on a network filesystem. The path
// need not exist yet; its nearest existing ancestor is inspected and nothing
// is created.
func CheckLocalPath(path string, purpose Purpose) error {
	return checkLocalPath(path, purpose, detectFilesystemType)
}

func checkLocalPath(path string, purpose Purpose, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", purpose)
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", purpose, path, err)
	}

	fsType, err := detector(inspectPath)
	if errors.Is(err, ErrDetectUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%s %q is on network filesystem %q; %s", purpose, path, fsType, purpose.hint())
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

// isNetworkFilesystem matches a detected type name. FUSE mounts are not
// counted: rootless container storage is commonly fuse-overlayfs.
func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
