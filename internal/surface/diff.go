package surface

import (
	"bytes"
	"fmt"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// Result is the added/removed member report for one project. A is the
// "before" snapshot and B the "after" one.
type Result struct {
	Project string   `json:"project"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether nothing was added or removed.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

// Diff compares project in a (before) and b (after). Added lists ids present
// in b but not a, in b's order; Removed lists ids present in a but not b, in
// a's order. Both are deduplicated. Renames show up as one removal plus one
// addition.
func Diff(a, b *Snapshot, project string) (Result, error) {
	before, err := lookup(a, project)
	if err != nil {
		return Result{}, err
	}
	after, err := lookup(b, project)
	if err != nil {
		return Result{}, err
	}

	idsA := Flatten(before)
	idsB := Flatten(after)

	return Result{
		Project: project,
		Added:   except(idsB, idsA),
		Removed: except(idsA, idsB),
	}, nil
}

func lookup(s *Snapshot, project string) (*Project, error) {
	p, ok := s.Project(project)
	if !ok {
		version := ""
		if s != nil {
			version = s.Version
		}
		return nil, &ProjectNotFoundError{Project: project, Version: version}
	}
	return p, nil
}

// Flatten returns the project's member ids across all types, keeping the
// first occurrence of each id in traversal order (types, then members).
func Flatten(p *Project) []string {
	seen := make(map[string]struct{}, p.MemberCount())
	ids := make([]string, 0, p.MemberCount())
	for _, t := range p.Types {
		for _, m := range t.Members {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// except returns the elements of xs not in ys, preserving xs order. xs is
// already deduplicated.
func except(xs, ys []string) []string {
	drop := make(map[string]struct{}, len(ys))
	for _, y := range ys {
		drop[y] = struct{}{}
	}
	out := make([]string, 0)
	for _, x := range xs {
		if _, ok := drop[x]; !ok {
			out = append(out, x)
		}
	}
	return out
}

// Render writes one id per line with a trailing newline. No ids renders as an
// empty document.
func Render(ids []string) []byte {
	if len(ids) == 0 {
		return []byte{}
	}
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// UnifiedListing renders a unified diff between the flattened member
// listings of project in a and b. It is a reading aid next to the
// added/removed artifacts, not a patch.
func UnifiedListing(a, b *Snapshot, project string, contextLines int) (string, error) {
	before, err := lookup(a, project)
	if err != nil {
		return "", err
	}
	after, err := lookup(b, project)
	if err != nil {
		return "", err
	}
	if contextLines <= 0 {
		contextLines = 3
	}

	u := difflib.UnifiedDiff{
		A:        listingLines(Flatten(before)),
		B:        listingLines(Flatten(after)),
		FromFile: fmt.Sprintf("%s@%s", project, a.Version),
		ToFile:   fmt.Sprintf("%s@%s", project, b.Version),
		Context:  contextLines,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return "", fmt.Errorf("render unified listing for %q: %w", project, err)
	}
	return s, nil
}

func listingLines(ids []string) []string {
	lines := make([]string, len(ids))
	for i, id := range ids {
		lines[i] = id + "\n"
	}
	return lines
}
