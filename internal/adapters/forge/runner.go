// Package forge talks to GitHub through the gh CLI: pull requests,
// branch probes, media uploads and the per-dog invitation flow.
package forge

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner abstracts command execution for testability. env holds
// extra KEY=VALUE pairs appended to the parent environment; gh reads
// its credential from GH_TOKEN.
type CommandRunner interface {
	Run(ctx context.Context, env []string, name string, args ...string) (string, error)
}

// ExecRunner is the production CommandRunner using os/exec.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command with the extra environment.
func (r *ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &RunError{
			Command: name + " " + strings.Join(args, " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// RunError wraps command execution errors with the captured stderr.
type RunError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *RunError) Error() string {
	if e.Stderr != "" {
		return e.Command + ": " + e.Stderr + ": " + e.Err.Error()
	}
	return e.Command + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}
