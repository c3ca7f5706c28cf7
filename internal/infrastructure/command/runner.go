package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Result captures the outcome of one external command invocation
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands with a hard timeout per invocation.
// A hung external command is bounded by the timeout and reported as a
// failure of that one invocation, never a hang of the caller.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a runner with the given per-command timeout
func NewRunner(timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{timeout: timeout, logger: logger}
}

// Run executes name with args and returns its output.
// A non-zero exit or timeout returns an error alongside whatever output
// was produced, so callers can log the command and its output.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	return r.RunIn(ctx, "", name, args...)
}

// RunIn is Run with an explicit working directory
func (r *Runner) RunIn(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	return r.RunEnv(ctx, dir, nil, name, args...)
}

// RunEnv is RunIn with extra environment entries appended to the
// inherited environment
func (r *Runner) RunEnv(ctx context.Context, dir string, env []string, name string, args ...string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		r.logger.Warn("command timed out",
			slog.String("command", name),
			slog.Duration("timeout", r.timeout),
		)
		return res, fmt.Errorf("command %s timed out after %s", name, r.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("command %s exited %d: %s", name, res.ExitCode, firstLine(res.Stderr))
		}
		return res, fmt.Errorf("command %s failed: %w", name, err)
	}

	r.logger.Debug("command completed",
		slog.String("command", name),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
