package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func detectorFor(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocalPath_AllowsLocalFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "runs.db")
	if err := checkLocalPath(dbPath, RunHistory, detectorFor("apfs")); err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestCheckLocalPath_RejectsNetworkFSPerPurpose(t *testing.T) {
	t.Parallel()

	cases := []struct {
		purpose Purpose
		fs      string
		want    []string
	}{
		{RunHistory, "smbfs", []string{"run history database", "smbfs", "SQLite requires a local filesystem", "--state /path/to/local/runs.db"}},
		{Mirror, "nfs", []string{"mirror directory", "nfs", "repository.dir"}},
		{Workspace, "cifs", []string{"workspace root", "cifs", "workspace.root"}},
	}

	for _, tc := range cases {
		t.Run(tc.purpose.String(), func(t *testing.T) {
			t.Parallel()
			err := checkLocalPath(filepath.Join(t.TempDir(), "target"), tc.purpose, detectorFor(tc.fs))
			if err == nil {
				t.Fatal("expected network filesystem validation error")
			}
			msg := err.Error()
			for _, want := range tc.want {
				if !strings.Contains(msg, want) {
					t.Fatalf("expected error to contain %q, got %q", want, msg)
				}
			}
		})
	}
}

func TestCheckLocalPath_UsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mirror := filepath.Join(root, "nested", "dir", "mirror")

	var inspectedPath string
	err := checkLocalPath(mirror, Mirror, func(path string) (string, error) {
		inspectedPath = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}

	if inspectedPath != root {
		t.Fatalf("expected detector to inspect nearest existing path %q, got %q", root, inspectedPath)
	}
}

func TestCheckLocalPath_UnsupportedPlatformPasses(t *testing.T) {
	t.Parallel()

	err := checkLocalPath(t.TempDir(), Workspace, func(string) (string, error) {
		return "", ErrDetectUnsupported
	})
	if err != nil {
		t.Fatalf("expected undetectable filesystem to pass, got: %v", err)
	}
}

func TestCheckLocalPath_DetectorFailure(t *testing.T) {
	t.Parallel()

	err := checkLocalPath(t.TempDir(), Mirror, func(string) (string, error) {
		return "", errors.New("statfs failed")
	})
	if err == nil || !strings.Contains(err.Error(), "statfs failed") {
		t.Fatalf("expected detector error, got: %v", err)
	}
	if err := checkLocalPath("", Mirror, detectorFor("ext4")); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fs   string
		want bool
	}{
		{name: "nfs", fs: "nfs", want: true},
		{name: "smbfs uppercase", fs: "SMBFS", want: true},
		{name: "9p", fs: "9p", want: true},
		{name: "local apfs", fs: "apfs", want: false},
		{name: "fuse overlay", fs: "fuse", want: false},
		{name: "unnamed linux magic", fs: "0x1234", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := isNetworkFilesystem(tc.fs)
			if got != tc.want {
				t.Fatalf("isNetworkFilesystem(%q)=%v, want %v", tc.fs, got, tc.want)
			}
		})
	}
}
