// Package surface holds the public API snapshot model produced by an
// Extractor and the engine that diffs two snapshots per project.
package surface

import (
	"context"
	"errors"
	"fmt"
)

// MemberKind is the documentation-comment-id prefix of a member.
type MemberKind string

const (
	KindType     MemberKind = "T"
	KindMethod   MemberKind = "M"
	KindProperty MemberKind = "P"
	KindField    MemberKind = "F"
	KindEvent    MemberKind = "E"
)

// Member is one public API member. ID is the stable fully-qualified
// identifier, for example "M:UnityEngine.GameObject.SetActive(bool)". It is
// the only property the diff engine relies on.
type Member struct {
	Kind MemberKind `json:"kind"`
	ID   string     `json:"id"`
}

// Type is a declared public type and its public members, in declaration order.
type Type struct {
	Declaration string   `json:"declaration"`
	Members     []Member `json:"members"`
}

// Project is a named grouping of types (for example "UnityEngine").
type Project struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Types []Type `json:"types"`
}

// Snapshot is the public API surface of one checked-out version. Snapshots
// are not modified after extraction.
type Snapshot struct {
	Version  string    `json:"version"`
	Projects []Project `json:"projects"`
}

// Project returns the project with exactly the given name.
func (s *Snapshot) Project(name string) (*Project, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Projects {
		if s.Projects[i].Name == name {
			return &s.Projects[i], true
		}
	}
	return nil, false
}

// ProjectNames lists project names in snapshot order.
func (s *Snapshot) ProjectNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Projects))
	for _, p := range s.Projects {
		names = append(names, p.Name)
	}
	return names
}

// MemberCount returns the number of members across all types, duplicates
// included.
func (p *Project) MemberCount() int {
	n := 0
	for _, t := range p.Types {
		n += len(t.Members)
	}
	return n
}

//go:generate mockgen -destination=mocks/mock_extractor.go -package=mocks github.com/yucchiy/UnityApiAnalyzer/internal/surface Extractor

// Extractor turns a checked-out source tree into a Snapshot. Implementations
// must only read below dir and must not retain it after returning.
//
// A project that cannot be extracted is left out of the snapshot. Reporting
// it is optional: an implementation may return the partial snapshot together
// with a *ExtractionError, or several joined with errors.Join, and callers
// then skip those projects. Any other error, or a nil snapshot, fails the
// whole extraction.
type Extractor interface {
	Extract(ctx context.Context, dir string) (*Snapshot, error)
}

// ErrProjectNotFound is wrapped by ProjectNotFoundError.
var ErrProjectNotFound = errors.New("project not found")

// ProjectNotFoundError reports a diff against a project missing from one of
// the snapshots.
type ProjectNotFoundError struct {
	Project string
	Version string
}

func (e *ProjectNotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("project %q not found in snapshot", e.Project)
	}
	return fmt.Sprintf("project %q not found in snapshot of %s", e.Project, e.Version)
}

func (e *ProjectNotFoundError) Unwrap() error { return ErrProjectNotFound }

// ExtractionError is a per-project extraction failure. The project is left out
// of the snapshot; the run carries on with the others.
type ExtractionError struct {
	Project string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract project %q: %v", e.Project, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
