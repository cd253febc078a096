// Package doctor checks that the configuration and the host can run an
// analysis: git is installed, the mirror directory is usable and free, and
// the mirror, workspace and run history database sit on local filesystems.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yucchiy/UnityApiAnalyzer/internal/config"
	"github.com/yucchiy/UnityApiAnalyzer/internal/lock"
	"github.com/yucchiy/UnityApiAnalyzer/internal/storage"
)

// Result holds the outcome of a check run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// GitProbe reports whether the git binary can be run.
type GitProbe interface {
	Available() bool
}

// Doctor checks a loaded config against the host.
type Doctor struct {
	cfg       *config.Config
	git       GitProbe
	checkPath func(string, storage.Purpose) error
}

// New creates a Doctor for cfg.
func New(cfg *config.Config, git GitProbe) *Doctor {
	return &Doctor{cfg: cfg, git: git, checkPath: storage.CheckLocalPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkGit(r)
	d.checkMirror(r)
	d.checkWorkspace(r)
	d.checkState(r)
	d.checkProjects(r)
	d.warnPolicy(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkGit(r *Result) {
	if d.git == nil || !d.git.Available() {
		d.addError(r, "git", "", "git binary not found in PATH")
	}
}

// checkMirror inspects a persistent mirror directory. A directory that is not
// a git checkout is replaced by a fresh clone on the next run, so it is worth
// flagging before that happens.
func (d *Doctor) checkMirror(r *Result) {
	dir := d.cfg.Repository.Dir
	if dir == "" {
		return
	}
	if err := d.checkPath(dir, storage.Mirror); err != nil {
		d.addError(r, "mirror", "repository.dir", err.Error())
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.addWarning(r, "mirror", "repository.dir",
			fmt.Sprintf("%s does not exist yet; the first run clones the full repository", dir))
		return
	case err != nil:
		d.addError(r, "mirror", "repository.dir", fmt.Sprintf("cannot stat %s: %v", dir, err))
		return
	case !info.IsDir():
		d.addError(r, "mirror", "repository.dir", fmt.Sprintf("%s is not a directory", dir))
		return
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		entries, _ := os.ReadDir(dir)
		if len(entries) > 0 {
			d.addWarning(r, "mirror", "repository.dir",
				fmt.Sprintf("%s is not a git checkout; its contents will be replaced by a fresh clone", dir))
		}
	}

	l, err := lock.AcquireDir(dir, "doctor")
	if errors.Is(err, lock.ErrHeld) {
		holder := "another process"
		if pid, perr := lock.HolderPID(lock.PathFor(dir)); perr == nil {
			holder = fmt.Sprintf("pid %d", pid)
		}
		d.addWarning(r, "mirror", "repository.dir",
			fmt.Sprintf("mirror is locked by %s; a concurrent analyze run will fail", holder))
		return
	}
	if err != nil {
		d.addError(r, "mirror", "repository.dir", fmt.Sprintf("cannot lock mirror: %v", err))
		return
	}
	_ = l.Release()
}

// checkWorkspace also checks the system temp dir when it hosts the mirror.
func (d *Doctor) checkWorkspace(r *Result) {
	ws := d.cfg.Workspace
	if ws.Root == "" {
		if ws.StaleAfter > 0 {
			d.addWarning(r, "workspace", "workspace.stale_after",
				"stale_after has no effect without workspace.root")
		}
		if d.cfg.Repository.Dir == "" {
			if err := d.checkPath(os.TempDir(), storage.Workspace); err != nil {
				d.addError(r, "workspace", "workspace.root", err.Error())
			}
		}
		return
	}
	if err := d.checkPath(ws.Root, storage.Workspace); err != nil {
		d.addError(r, "workspace", "workspace.root", err.Error())
	}
	if dir := d.cfg.Repository.Dir; dir != "" && within(dir, ws.Root) {
		d.addError(r, "workspace", "repository.dir",
			"repository.dir must not be inside workspace.root; the workspace is removed after every run")
	}
}

func (d *Doctor) checkState(r *Result) {
	if !d.cfg.State.IsEnabled() {
		return
	}
	if err := d.checkPath(d.cfg.State.Path, storage.RunHistory); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

// checkProjects warns about roots that cannot exist in a checked-out tree.
func (d *Doctor) checkProjects(r *Result) {
	for i, p := range d.cfg.Projects {
		for j, root := range p.Roots {
			field := fmt.Sprintf("projects[%d].roots[%d]", i, j)
			clean := filepath.ToSlash(filepath.Clean(root))
			if filepath.IsAbs(root) || clean == ".." || strings.HasPrefix(clean, "../") {
				d.addError(r, "projects", field,
					fmt.Sprintf("root %q must be relative to the repository", root))
			}
		}
	}
}

func (d *Doctor) warnPolicy(r *Result) {
	if d.cfg.Repository.FetchTimeout == 0 {
		d.addWarning(r, "repository", "repository.fetch_timeout",
			"no fetch timeout; a stalled clone or fetch waits forever")
	}
}

// within reports whether path equals root or lies below it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// FormatHuman returns a human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("All checks passed.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "All checks passed (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Checks failed (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
