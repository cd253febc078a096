package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/yucchiy/UnityApiAnalyzer/internal/analyzer"
	"github.com/yucchiy/UnityApiAnalyzer/internal/runlog"
)

// theme holds all styling for command output. Colours degrade to plain text
// when stdout is not a terminal.
var theme = struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Dim     lipgloss.Style
	Added   lipgloss.Style
	Removed lipgloss.Style
	OK      lipgloss.Style
	Failed  lipgloss.Style
	Running lipgloss.Style
	Border  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	Added:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00AF00")),
	Removed: lipgloss.NewStyle().Foreground(lipgloss.Color("#D70000")),
	OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00AF00")),
	Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#D70000")),
	Running: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	Border:  lipgloss.NewStyle().Foreground(lipgloss.Color("#874BFD")),
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.Border).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			return theme.Cell
		}).
		Headers(headers...)
}

// renderReport prints the per-project outcome of an analyze run.
func renderReport(r *analyzer.Report) string {
	t := newTable("PROJECT", "ADDED", "REMOVED", "ARTIFACTS")
	for _, p := range r.Projects {
		if p.Skipped() {
			t.Row(p.Project, "-", "-", theme.Dim.Render("skipped: "+p.SkipReason.Error()))
			continue
		}
		files := []string{
			filepath.Base(p.Artifacts.AddedPath),
			filepath.Base(p.Artifacts.RemovedPath),
		}
		if p.UnifiedPath != "" {
			files = append(files, filepath.Base(p.UnifiedPath))
		}
		t.Row(p.Project,
			theme.Added.Render("+"+strconv.Itoa(len(p.Result.Added))),
			theme.Removed.Render("-"+strconv.Itoa(len(p.Result.Removed))),
			strings.Join(files, ", "))
	}

	var b strings.Builder
	b.WriteString(theme.Title.Render(fmt.Sprintf("%s -> %s", r.A, r.B)))
	if r.RunID != "" {
		b.WriteString(theme.Dim.Render("  run " + r.RunID))
	}
	b.WriteString("\n")
	b.WriteString(t.Render())
	return b.String()
}

// renderHistory prints one line per recorded run.
func renderHistory(runs []runlog.Run) string {
	t := newTable("RUN", "A", "B", "STATUS", "STARTED", "DURATION", "PROJECTS")
	for _, run := range runs {
		t.Row(
			shortID(run.ID),
			run.VersionA,
			run.VersionB,
			renderStatus(run.Status),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			renderDuration(run),
			renderProjects(run.Projects),
		)
	}
	return t.Render()
}

// renderRun prints a single run with its project results.
func renderRun(run *runlog.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s -> %s  %s\n", theme.Title.Render("run "+run.ID), run.VersionA, run.VersionB, renderStatus(run.Status))
	fmt.Fprintf(&b, "repository: %s\n", run.Repository)
	fmt.Fprintf(&b, "output:     %s\n", run.OutputDir)
	if run.LastError != "" {
		fmt.Fprintf(&b, "error:      %s\n", theme.Failed.Render(run.LastError))
	}

	t := newTable("PROJECT", "STATUS", "ADDED", "REMOVED", "ADDED DIGEST", "REMOVED DIGEST")
	for _, p := range run.Projects {
		if p.Status == runlog.ProjectSkipped {
			t.Row(p.Project, theme.Dim.Render(string(p.Status)), "-", "-", theme.Dim.Render(p.Detail), "")
			continue
		}
		t.Row(p.Project, string(p.Status),
			strconv.Itoa(p.AddedCount), strconv.Itoa(p.RemovedCount),
			shortDigest(p.AddedDigest), shortDigest(p.RemovedDigest))
	}
	b.WriteString(t.Render())
	return b.String()
}

func renderStatus(s runlog.Status) string {
	switch s {
	case runlog.StatusSucceeded:
		return theme.OK.Render(string(s))
	case runlog.StatusFailed:
		return theme.Failed.Render(string(s))
	default:
		return theme.Running.Render(string(s))
	}
}

func renderDuration(run runlog.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
}

func renderProjects(results []runlog.ProjectResult) string {
	if len(results) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(results))
	for _, p := range results {
		if p.Status == runlog.ProjectSkipped {
			parts = append(parts, p.Project+" (skipped)")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s +%d/-%d", p.Project, p.AddedCount, p.RemovedCount))
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func shortDigest(d string) string {
	if len(d) <= 12 {
		return d
	}
	return d[:12]
}
