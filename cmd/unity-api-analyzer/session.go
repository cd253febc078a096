package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/yucchiy/UnityApiAnalyzer/internal/analyzer"
	"github.com/yucchiy/UnityApiAnalyzer/internal/config"
	"github.com/yucchiy/UnityApiAnalyzer/internal/extract"
	"github.com/yucchiy/UnityApiAnalyzer/internal/lock"
	"github.com/yucchiy/UnityApiAnalyzer/internal/log"
	"github.com/yucchiy/UnityApiAnalyzer/internal/repository"
	"github.com/yucchiy/UnityApiAnalyzer/internal/runlog"
	"github.com/yucchiy/UnityApiAnalyzer/internal/storage"
	"github.com/yucchiy/UnityApiAnalyzer/internal/workspace"
)

const tempWorkspacePattern = "unity-api-analyzer-*"

// withAnalyzer builds the workspace, mirror and extractor described by cfg,
// runs fn and tears everything down again. The workspace is disposed on every
// exit path. When record is set and state is enabled, runs are recorded.
func withAnalyzer(ctx context.Context, cfg *config.Config, record bool, fn func(ctx context.Context, a *analyzer.Analyzer) error) error {
	body := func(ctx context.Context, ws *workspace.Store) error {
		if cfg.Workspace.Root != "" && cfg.Workspace.StaleAfter > 0 {
			report, err := ws.Cleanup(ctx, cfg.Workspace.StaleAfter)
			if err != nil {
				log.Warn("workspace cleanup failed", "root", ws.Root(), "error", err)
			} else if report.DeletedDirs > 0 {
				log.Info("removed stale workspace directories", "count", report.DeletedDirs)
			}
		}

		mirrorDir := cfg.Repository.Dir
		if mirrorDir == "" {
			d, err := ws.Dir(ctx, "mirror")
			if err != nil {
				return err
			}
			mirrorDir = d.Dir
		}

		if err := storage.CheckLocalPath(mirrorDir, storage.Mirror); err != nil {
			return err
		}

		mirror, err := repository.New(cfg.Repository.URL, mirrorDir,
			repository.WithRemote(cfg.Repository.Remote))
		if err != nil {
			return err
		}
		if err := mirror.Acquire(fmt.Sprintf("unity-api-analyzer %s", currentVersionInfo().Version)); err != nil {
			if errors.Is(err, lock.ErrHeld) {
				return fmt.Errorf("mirror %s is in use by another run: %w", mirrorDir, err)
			}
			return err
		}
		defer func() {
			if err := mirror.Close(); err != nil {
				log.Warn("failed to release mirror lock", "error", err)
			}
		}()

		ext, err := extract.New(extractProjects(cfg.Projects),
			extract.WithWorkers(cfg.Analysis.ParseWorkers))
		if err != nil {
			return err
		}

		opts := []analyzer.Option{
			analyzer.WithMinSupportedMajor(cfg.Analysis.MinSupportedMajor),
			analyzer.WithContextLines(cfg.Analysis.ContextLines),
			analyzer.WithSyncTimeout(cfg.Repository.FetchTimeout),
		}
		if record && cfg.State.IsEnabled() {
			db, err := storage.OpenSQLite(ctx, cfg.State.Path)
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer db.Close()
			opts = append(opts, analyzer.WithRecorder(runlog.NewStore(db)))
		}

		a, err := analyzer.New(mirror, ext, ext.Projects(), opts...)
		if err != nil {
			return err
		}
		return fn(ctx, a)
	}

	if cfg.Workspace.Root == "" {
		return workspace.RunTemp(ctx, tempWorkspacePattern, body)
	}
	return workspace.Run(ctx, cfg.Workspace.Root, body)
}

// openHistory opens the run history database for reading.
func openHistory(ctx context.Context, cfg *config.Config) (*runlog.Store, func() error, error) {
	if !cfg.State.IsEnabled() {
		return nil, nil, fmt.Errorf("run history is disabled (state.enabled: false)")
	}
	if _, err := os.Stat(cfg.State.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("no run history at %s", cfg.State.Path)
		}
		return nil, nil, err
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open run history: %w", err)
	}
	return runlog.NewStore(db), db.Close, nil
}

func extractProjects(in []config.ProjectConfig) []extract.Project {
	out := make([]extract.Project, 0, len(in))
	for _, p := range in {
		out = append(out, extract.Project{
			Name:        p.Name,
			Roots:       p.Roots,
			ExcludeDirs: p.ExcludeDirs,
			RequireDirs: p.RequireDirs,
		})
	}
	return out
}
