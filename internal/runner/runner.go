// Package runner executes external commands with a deadline.
//
// Discovery probes, deployers and external stage programs all go through
// the Runner interface so tests can substitute a recording fake.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimeout is returned when a command is killed for exceeding its timeout.
var ErrTimeout = errors.New("command timed out")

// maxOutputBytes caps captured stdout and stderr each.
const maxOutputBytes = 64 * 1024

// Command describes one invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

func (c Command) String() string {
	s := c.Name
	for _, a := range c.Args {
		s += " " + a
	}
	return s
}

// Result captures the outcome of a finished command. A non-zero ExitCode
// is not an error; callers decide what it means.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Truncated bool
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands on the host with os/exec.
type ExecRunner struct {
	// DefaultTimeout applies when Command.Timeout is zero.
	DefaultTimeout time.Duration
}

// NewExecRunner returns a runner with the given default timeout.
func NewExecRunner(defaultTimeout time.Duration) *ExecRunner {
	return &ExecRunner{DefaultTimeout: defaultTimeout}
}

// Run starts cmd and waits for it. The process is killed when the timeout
// or ctx expires; in that case the returned error wraps ErrTimeout or the
// context error.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := exec.CommandContext(execCtx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = cmd.Env
	}
	// Children that inherit the pipes would otherwise keep Wait blocked.
	c.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	outW := &limitedWriter{w: &stdout, max: maxOutputBytes}
	errW := &limitedWriter{w: &stderr, max: maxOutputBytes}
	c.Stdout = outW
	c.Stderr = errW

	start := time.Now()
	err := c.Run()
	res := Result{
		ExitCode:  -1,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: outW.truncated || errW.truncated,
	}

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%s after %s: %w", cmd.Name, timeout, ErrTimeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("run %s: %w", cmd.Name, err)
}

// limitedWriter keeps the first max bytes and discards the rest.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int
	truncated bool
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	room := l.max - l.w.Len()
	if room <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		l.w.Write(p[:room])
		l.truncated = true
		return len(p), nil
	}
	return l.w.Write(p)
}
