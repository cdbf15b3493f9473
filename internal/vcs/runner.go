// Package vcs wraps git worktree operations and pull-request hosting.
// Local git state is inspected through go-git; mutating operations and
// the gh CLI go through a bounded command runner.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// CommandRunner runs commands with a per-invocation timeout and
// returns trimmed combined output.
type CommandRunner struct {
	Timeout time.Duration
}

// NewCommandRunner creates a runner. A zero timeout means 30 seconds.
func NewCommandRunner(timeout time.Duration) *CommandRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandRunner{Timeout: timeout}
}

// Run executes the command in dir. On failure the error carries the
// command line and its output.
func (r *CommandRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("%s %s timed out after %s", name, strings.Join(args, " "), r.Timeout)
		}
		return output, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, output)
	}
	return output, nil
}
