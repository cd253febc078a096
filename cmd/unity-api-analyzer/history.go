package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yucchiy/UnityApiAnalyzer/internal/log"
	"github.com/yucchiy/UnityApiAnalyzer/internal/runlog"
)

type historyOptions struct {
	limit int
	runID string
	prune time.Duration
}

func newHistoryCommand(flags *globalFlags) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded analyze runs",
		Long: `List recent analyze runs from the run history database, newest first.

With --run, show one run in detail including the BLAKE3 digest of every
artifact it wrote. With --prune, delete runs older than the given age first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			store, closeFn, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			return runHistory(cmd.Context(), store, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&opts.runID, "run", "", "Show a single run by id")
	cmd.Flags().DurationVar(&opts.prune, "prune", 0, "Delete runs older than this age (e.g. 720h)")
	return cmd
}

func runHistory(ctx context.Context, store *runlog.Store, opts *historyOptions, out io.Writer) error {
	if opts.prune < 0 {
		return fmt.Errorf("--prune must be positive")
	}
	if opts.prune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-opts.prune))
		if err != nil {
			return err
		}
		log.Info("pruned run history", "deleted", n, "older_than", opts.prune.String())
	}

	if opts.runID != "" {
		run, err := store.Get(ctx, opts.runID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderRun(run))
		return nil
	}

	runs, err := store.Recent(ctx, opts.limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	fmt.Fprintln(out, renderHistory(runs))
	return nil
}
