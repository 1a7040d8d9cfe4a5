// Package executor runs external build commands with their output
// streams merged and delivered incrementally to a log sink.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner runs a command to completion. Standard error is interleaved
// into standard output and forwarded to sink line by line as the
// process emits it, so log readers see progress during a long build.
// The call blocks until the process exits; that suspension is the
// mechanism that serializes build execution.
type Runner interface {
	Run(ctx context.Context, sink io.Writer, command string, args ...string) (int, error)
}

type execRunner struct {
	env []string
}

// RunnerOption customizes a Runner.
type RunnerOption func(*execRunner)

// WithEnvOverrides appends KEY=VALUE pairs to the environment passed to
// every command, replacing the defaults.
func WithEnvOverrides(kv ...string) RunnerOption {
	return func(r *execRunner) {
		r.env = kv
	}
}

// NewExecRunner returns a Runner backed by os/exec. By default the
// command environment is the inherited one with color and terminal
// features disabled so emitted text stays plain.
func NewExecRunner(opts ...RunnerOption) Runner {
	r := &execRunner{
		env: []string{"TERM=dumb", "NOCOLOR=1", "NO_COLOR=1"},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *execRunner) Run(ctx context.Context, sink io.Writer, command string, args ...string) (int, error) {
	fmt.Fprintf(sink, "$ %s\n", strings.Join(append([]string{command}, args...), " "))

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), r.env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("creating stdout pipe: %w", err)
	}
	// Sharing the stdout pipe interleaves stderr into it.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting %s: %w", command, err)
	}

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 64*1024)
	for scanner.Scan() {
		sink.Write(append(scanner.Bytes(), '\n'))
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error scanning command output", "command", command, "error", err)
		// The scanner stops reading on error; keep draining the pipe so
		// the process cannot block on a full buffer before Wait.
		io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("waiting for %s: %w", command, err)
	}
	return 0, nil
}
