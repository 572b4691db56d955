// Copyright Contributors to the launch project

// Package procrunner wraps os/exec so that every external tool invocation
// (git, docker, kubectl, tailscale, pixi) is logged and classified
// uniformly. Non-zero exit is not automatically fatal; callers decide.
package procrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-logr/logr"
)

// Kind classifies why a command failed to run.
type Kind int

const (
	// KindNonZeroExit indicates the process ran and exited non-zero.
	KindNonZeroExit Kind = iota
	// KindNotFound indicates the program could not be located.
	KindNotFound
	// KindPermissionDenied indicates the program exists but is not executable.
	KindPermissionDenied
)

// Error wraps a failed command invocation with enough context to form a
// useful message: the program, its argv, and a classification of the
// failure.
type Error struct {
	Program string
	Args    []string
	Kind    Kind
	Code    int // valid when Kind == KindNonZeroExit
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("the %q command is required but not available on your system, please install it (argv: %q %q)", e.Program, e.Program, e.Args)
	case KindPermissionDenied:
		return fmt.Sprintf("the %q command is available but does not have the right permissions, please make sure the binary is executable (argv: %q %q)", e.Program, e.Program, e.Args)
	default:
		return fmt.Sprintf("command %q %q exited with code %d", e.Program, e.Args, e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Output captures a finished command's result.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes external commands and logs each invocation at debug
// level.
type Runner struct {
	Log logr.Logger
}

// New returns a Runner that logs to log.
func New(log logr.Logger) *Runner {
	return &Runner{Log: log}
}

func classify(program string, args []string, err error) *Error {
	if errors.Is(err, exec.ErrNotFound) {
		return &Error{Program: program, Args: args, Kind: KindNotFound, Err: err}
	}
	var pathErr *exec.Error
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, exec.ErrNotFound) {
		return &Error{Program: program, Args: args, Kind: KindNotFound, Err: err}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Error{Program: program, Args: args, Kind: KindNonZeroExit, Code: exitErr.ExitCode(), Err: err}
	}
	if errors.Is(err, os.ErrPermission) {
		return &Error{Program: program, Args: args, Kind: KindPermissionDenied, Err: err}
	}
	return &Error{Program: program, Args: args, Kind: KindNotFound, Err: err}
}

// Run executes program with args, requiring a zero exit status.
func (r *Runner) Run(ctx context.Context, program string, args ...string) (*Output, error) {
	return r.run(ctx, program, args, nil, true)
}

// TryRun executes program with args without requiring success; the caller
// inspects Output.ExitCode or the returned error.
func (r *Runner) TryRun(ctx context.Context, program string, args ...string) (*Output, error) {
	return r.run(ctx, program, args, nil, false)
}

// RunWithStdin executes program with args, feeding stdin on a separate
// goroutine while the main goroutine waits for the process, capturing its
// stdout and stderr separately, then joins.
// This mirrors shelling out to a CLI that reads a manifest from stdin.
func (r *Runner) RunWithStdin(ctx context.Context, stdin []byte, program string, args ...string) (*Output, error) {
	return r.run(ctx, program, args, stdin, true)
}

func (r *Runner) run(ctx context.Context, program string, args []string, stdin []byte, requireSuccess bool) (*Output, error) {
	r.Log.V(1).Info("running command", "program", program, "args", args)

	cmd := exec.CommandContext(ctx, program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if stdin != nil {
		stdinPipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, classify(program, args, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, classify(program, args, err)
		}

		writeErr := make(chan error, 1)
		go func() {
			defer stdinPipe.Close()
			_, err := stdinPipe.Write(stdin)
			writeErr <- err
		}()

		waitErr := cmd.Wait()
		if err := <-writeErr; err != nil {
			r.Log.V(1).Info("writing stdin failed", "program", program, "error", err)
		}

		out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		if ps := cmd.ProcessState; ps != nil {
			out.ExitCode = ps.ExitCode()
		}
		if waitErr != nil {
			cerr := classify(program, args, waitErr)
			if requireSuccess || cerr.Kind != KindNonZeroExit {
				return out, cerr
			}
		}
		return out, nil
	}

	err := cmd.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ps := cmd.ProcessState; ps != nil {
		out.ExitCode = ps.ExitCode()
	}
	if err != nil {
		cerr := classify(program, args, err)
		if requireSuccess || cerr.Kind != KindNonZeroExit {
			return out, cerr
		}
	}
	return out, nil
}
