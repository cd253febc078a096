package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yucchiy/UnityApiAnalyzer/internal/analyzer"
	uversion "github.com/yucchiy/UnityApiAnalyzer/internal/version"
)

func newVersionsCommand(flags *globalFlags) *cobra.Command {
	var (
		minMajor int
		latest   bool
	)

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List the versions available in the reference mirror",
		Long: `Sync the reference mirror and print every tagged version, oldest first.
Tags that are not version strings are ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("min") {
				minMajor = cfg.Analysis.MinSupportedMajor
			}
			return withAnalyzer(cmd.Context(), cfg, false, func(ctx context.Context, a *analyzer.Analyzer) error {
				return runVersions(ctx, a, minMajor, latest, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().IntVar(&minMajor, "min", analyzer.DefaultMinSupportedMajor, "Oldest major version to list")
	cmd.Flags().BoolVar(&latest, "latest", false, "Print only the newest version")
	return cmd
}

func runVersions(ctx context.Context, a *analyzer.Analyzer, minMajor int, latest bool, out io.Writer) error {
	versions, err := a.AvailableVersions(ctx, minMajor)
	if err != nil {
		return err
	}
	if latest {
		v, ok := uversion.Max(versions)
		if !ok {
			return fmt.Errorf("no versions at or above %d", minMajor)
		}
		fmt.Fprintln(out, v)
		return nil
	}
	for _, v := range versions {
		fmt.Fprintln(out, v)
	}
	return nil
}
