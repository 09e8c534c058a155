// Package runner executes external tools with an explicit argument list.
// Nothing here goes through a shell.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// stderrTail bounds how much tool output is kept in an ExitError.
const stderrTail = 2048

// Executor runs external commands. Run waits for the command and reports a
// non-zero exit as an error; Output additionally returns stdout.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExitError describes a failed tool invocation.
type ExitError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExecRunner is the os/exec backed Executor.
type ExecRunner struct {
	// Verbose tees tool stderr to os.Stderr while still capturing it.
	Verbose bool
	// Trace, when set, receives every command line before it starts.
	Trace func(command string)
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(verbose bool, trace func(string)) *ExecRunner {
	return &ExecRunner{Verbose: verbose, Trace: trace}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.run(ctx, false, name, args...)
	return err
}

func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return r.run(ctx, true, name, args...)
}

func (r *ExecRunner) run(ctx context.Context, captureStdout bool, name string, args ...string) ([]byte, error) {
	command := CommandLine(name, args...)
	if r.Trace != nil {
		r.Trace(command)
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	if captureStdout {
		cmd.Stdout = &stdout
	}
	if r.Verbose {
		cmd.Stderr = io.MultiWriter(&stderr, os.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &ExitError{
			Command: command,
			Stderr:  tail(stderr.String(), stderrTail),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// IsAvailable reports whether a binary can be found on PATH (or at the given path).
func IsAvailable(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// CommandLine renders name and args for logs. Arguments containing spaces are quoted.
func CommandLine(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
