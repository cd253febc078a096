package surface

import (
	"fmt"
	"os"
	"path/filepath"
)

// Artifacts are the files written for one project.
type Artifacts struct {
	Project     string
	AddedPath   string
	RemovedPath string
}

// ArtifactNames returns the added/removed file names for project.
func ArtifactNames(project string) (added, removed string) {
	return project + "_added.txt", project + "_removed.txt"
}

// WriteArtifacts writes "{project}_added.txt" and "{project}_removed.txt"
// into dir, creating dir if absent. Each file is replaced atomically.
func WriteArtifacts(dir string, r Result) (Artifacts, error) {
	if r.Project == "" {
		return Artifacts{}, fmt.Errorf("write artifacts: project name is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("create output directory: %w", err)
	}

	addedName, removedName := ArtifactNames(r.Project)
	out := Artifacts{
		Project:     r.Project,
		AddedPath:   filepath.Join(dir, addedName),
		RemovedPath: filepath.Join(dir, removedName),
	}

	if err := writeFileAtomic(out.AddedPath, Render(r.Added)); err != nil {
		return Artifacts{}, err
	}
	if err := writeFileAtomic(out.RemovedPath, Render(r.Removed)); err != nil {
		return Artifacts{}, err
	}
	return out, nil
}

// WriteUnifiedListing writes "{project}.diff" into dir.
func WriteUnifiedListing(dir, project, body string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, project+".diff")
	if err := writeFileAtomic(path, []byte(body)); err != nil {
		return "", err
	}
	return path, nil
}

// writeFileAtomic writes into a temp file in the same directory and renames it
// over path, so readers never observe a partial artifact.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", filepath.Base(path), err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
