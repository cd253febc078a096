package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yucchiy/UnityApiAnalyzer/internal/analyzer"
)

type analyzeOptions struct {
	a, b      string
	outputDir string
	unified   bool
}

func newAnalyzeCommand(flags *globalFlags) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <a> <b> -o <dir>",
		Short: "Write the API members added and removed between two versions",
		Long: `Compare the public API of version A (before) with version B (after).

For every tracked project two files are written to the output directory:
  {project}_added.txt    members present in B but not in A
  {project}_removed.txt  members present in A but not in B

Versions may be given as arguments or with --a and --b.`,
		Example: `  unity-api-analyzer analyze 2022.3.5f1 2023.1.0a2 -o out
  unity-api-analyzer analyze --a 2022.3.5f1 --b 2022.3.10f1 -o out --unified`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.resolve(args); err != nil {
				return err
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return withAnalyzer(cmd.Context(), cfg, true, func(ctx context.Context, a *analyzer.Analyzer) error {
				return runAnalyze(ctx, a, opts, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVar(&opts.a, "a", "", "Version to compare from (before)")
	cmd.Flags().StringVar(&opts.b, "b", "", "Version to compare to (after)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "Directory to write artifacts to (created if absent)")
	cmd.Flags().BoolVar(&opts.unified, "unified", false, "Also write a {project}.diff unified listing")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// resolve merges positional versions with --a/--b. A version given both ways
// must agree.
func (o *analyzeOptions) resolve(args []string) error {
	pick := func(name, flagValue string, idx int) (string, error) {
		if idx >= len(args) {
			return flagValue, nil
		}
		if flagValue != "" && flagValue != args[idx] {
			return "", fmt.Errorf("version %s given twice: %q and --%s %q", name, args[idx], name, flagValue)
		}
		return args[idx], nil
	}

	var err error
	if o.a, err = pick("a", o.a, 0); err != nil {
		return err
	}
	if o.b, err = pick("b", o.b, 1); err != nil {
		return err
	}
	if o.a == "" || o.b == "" {
		return fmt.Errorf("two versions are required: analyze <a> <b> -o <dir>")
	}
	return nil
}

func runAnalyze(ctx context.Context, a *analyzer.Analyzer, opts *analyzeOptions, out io.Writer) error {
	report, err := a.Run(ctx, analyzer.Request{
		A:         opts.a,
		B:         opts.b,
		OutputDir: opts.outputDir,
		Unified:   opts.unified,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderReport(report))
	return nil
}
