package workspace

import (
	"context"
	"time"
)

// Directory is a named subdirectory of the scratch root, one per logical
// dependency (for example the mirrored reference repository).
type Directory struct {
	Name string
	Dir  string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs the scratch root for one process run.
type Manager interface {
	// Root returns the absolute scratch root path.
	Root() string

	// Dir returns the directory for name, creating it (and the root) if needed.
	Dir(ctx context.Context, name string) (Directory, error)

	// Open resolves an existing directory for name.
	Open(ctx context.Context, name string) (Directory, error)

	// Cleanup removes subdirectories older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)

	// Dispose recursively removes the scratch root. Only the first call acts.
	Dispose() error
}
