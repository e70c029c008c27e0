package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var ErrCommandTimeout = errors.New("tools: command timed out")

// Result is the captured outcome of one short-lived command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
}

// FirstLine is the first non-blank stdout line, trimmed.
func (r Result) FirstLine() string {
	for _, line := range strings.Split(string(r.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// Diagnostic is trimmed stderr, falling back to stdout.
func (r Result) Diagnostic() string {
	if msg := strings.TrimSpace(string(r.Stderr)); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(r.Stdout))
}

// CommandRunner runs a command to completion. Stdout and Stderr in spec are
// ignored; output is captured into the Result.
type CommandRunner interface {
	Run(ctx context.Context, spec ProcessSpec) (Result, error)
}

// ExecRunner runs commands with os/exec. A zero Timeout relies on ctx alone.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, spec ProcessSpec) (Result, error) {
	if spec.Name == "" {
		return Result{}, ErrEmptyCommand
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	// children holding the output pipes must not outlive a cancelled ctx
	cmd.WaitDelay = time.Second
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %s: %v", ErrCommandTimeout, spec.Name, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = int32(exitErr.ExitCode())
		return res, fmt.Errorf("tools: %s exit=%d: %w", spec.Name, res.ExitCode, err)
	}
	// not started: missing binary, bad dir
	res.ExitCode = 127
	return res, fmt.Errorf("tools: run %s: %w", spec.Name, err)
}
