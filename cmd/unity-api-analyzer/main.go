package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yucchiy/UnityApiAnalyzer/internal/config"
	"github.com/yucchiy/UnityApiAnalyzer/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

// runCLI executes one command line and returns the process exit code.
func runCLI(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps an error to the process exit status. Every failure is 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	statePath  string
	noState    bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "unity-api-analyzer",
		Short: "Compare the public C# API of two Unity versions",
		Long: `unity-api-analyzer checks out two tagged versions of the Unity C# reference
source, extracts the public API surface of each tracked project and writes
the members that were added and removed between them.

Versions look like 2022.3.5f1: {major}.{minor}.{revision}{a|b|f|p}{increment}.`,
		Version:       currentVersionInfo().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to config file (default: $"+config.EnvConfigPath+" or ~/.config/unity-api-analyzer/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Override log format (auto, json, text)")
	pf.StringVar(&flags.statePath, "state", "", "Path to the run history database")
	pf.BoolVar(&flags.noState, "no-state", false, "Do not record run history")

	cmd.AddCommand(
		newAnalyzeCommand(flags),
		newVersionsCommand(flags),
		newHistoryCommand(flags),
		newDoctorCommand(flags),
		newVersionCommand(),
	)
	return cmd
}

// load reads the config, applies flag overrides and configures logging.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if f.logLevel != "" {
		level := strings.ToLower(strings.TrimSpace(f.logLevel))
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			return nil, fmt.Errorf("invalid --log-level %q (want debug, info, warn or error)", f.logLevel)
		}
	}
	if f.logFormat != "" {
		switch f.logFormat {
		case "auto", "json", "text":
			cfg.LogFormat = f.logFormat
		default:
			return nil, fmt.Errorf("invalid --log-format %q (want auto, json or text)", f.logFormat)
		}
	}
	if f.statePath != "" {
		cfg.State.Path = f.statePath
		enabled := true
		cfg.State.Enabled = &enabled
	}
	if f.noState {
		disabled := false
		cfg.State.Enabled = &disabled
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)
	if cfg.SourcePath != "" {
		log.Debug("config loaded", "path", cfg.SourcePath)
	}
	return cfg, nil
}
