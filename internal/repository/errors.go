package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yucchiy/UnityApiAnalyzer/internal/version"
)

var (
	// ErrVersionNotFound means no refs/tags/<version> exists in the mirror.
	ErrVersionNotFound = errors.New("version tag not found")

	// ErrNotCloned is returned by operations that need a mirror before
	// EnsureCloned has succeeded.
	ErrNotCloned = errors.New("repository mirror is not cloned")
)

// GitError is a failed git invocation.
type GitError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *GitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: exit %d: %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

func (e *GitError) Unwrap() error { return e.Err }

// NetworkError is a clone or fetch that failed talking to the remote. The
// local mirror is left as it was, so the operation can be retried.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network failure: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Temporary reports that retrying may succeed.
func (e *NetworkError) Temporary() bool { return true }

// IsNetworkError lets callers test the kind without importing the type.
func (e *NetworkError) IsNetworkError() bool { return true }

// CheckoutError is a failure to move the working tree to a version.
type CheckoutError struct {
	Version version.Version
	Step    string
	Err     error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout %s (%s): %v", e.Version, e.Step, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// networkMarkers are lowercase fragments of git/curl/ssh stderr that mean the
// remote could not be reached or the transfer broke off.
var networkMarkers = []string{
	"could not resolve host",
	"could not resolve hostname",
	"connection refused",
	"connection timed out",
	"operation timed out",
	"connection reset",
	"network is unreachable",
	"temporary failure in name resolution",
	"failed to connect",
	"unable to access",
	"could not read from remote repository",
	"the remote end hung up unexpectedly",
	"early eof",
	"rpc failed",
	"tls handshake",
	"ssl_connect",
	"gnutls",
}

// isNetworkFailure inspects a git error for signs of a transport problem.
func isNetworkFailure(err error) bool {
	if err == nil {
		return false
	}
	var marker interface{ IsNetworkError() bool }
	if errors.As(err, &marker) && marker.IsNetworkError() {
		return true
	}

	text := strings.ToLower(err.Error())
	var gerr *GitError
	if errors.As(err, &gerr) {
		text = strings.ToLower(gerr.Stderr)
	}
	for _, m := range networkMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// classifyRemote wraps err from a clone/fetch as a NetworkError when it looks
// like a transport failure. Cancellation is passed through untouched.
func classifyRemote(op, url string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, url, err)
	}
	if isNetworkFailure(err) {
		return &NetworkError{Op: op, URL: url, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, url, err)
}
