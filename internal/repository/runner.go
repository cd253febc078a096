package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/yucchiy/UnityApiAnalyzer/internal/repository Runner

// Runner executes git subcommands. dir is the working directory; an empty dir
// means the process working directory.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// ExecRunner runs the git binary found on PATH.
type ExecRunner struct {
	Binary string
	// Env is appended to the process environment.
	Env []string
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner returns a runner that never prompts for credentials and
// forces the C locale so stderr can be classified.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Binary: "git",
		Env: []string{
			"GIT_TERMINAL_PROMPT=0",
			"GIT_ASKPASS=",
			"LC_ALL=C",
		},
	}
}

// Run returns stdout. A non-zero exit yields a *GitError; a cancelled context
// kills the process and yields the context error.
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("git: no subcommand")
	}
	binary := r.Binary
	if binary == "" {
		binary = "git"
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("git %s: %w", args[0], ctxErr)
	}

	gerr := &GitError{
		Args:     append([]string(nil), args...),
		ExitCode: -1,
		Stderr:   stderr.String(),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		gerr.ExitCode = exitErr.ExitCode()
	}
	return stdout.Bytes(), gerr
}

// Available reports whether the git binary can be found.
func (r *ExecRunner) Available() bool {
	binary := r.Binary
	if binary == "" {
		binary = "git"
	}
	_, err := exec.LookPath(binary)
	return err == nil
}
