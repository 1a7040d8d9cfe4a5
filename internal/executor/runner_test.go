package executor

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunMergesStderrIntoStdout(t *testing.T) {
	var sink bytes.Buffer
	r := NewExecRunner()

	code, err := r.Run(context.Background(), &sink, "/bin/sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	out := sink.String()
	if !strings.HasPrefix(out, "$ /bin/sh -c ") {
		t.Fatalf("log must start with the invoked command line, got %q", out)
	}
	if !strings.Contains(out, "out\n") || !strings.Contains(out, "err\n") {
		t.Fatalf("expected both streams in sink, got %q", out)
	}
}

func TestRunReturnsExitCode(t *testing.T) {
	var sink bytes.Buffer
	r := NewExecRunner()

	code, err := r.Run(context.Background(), &sink, "/bin/sh", "-c", "exit 3")
	if err != nil {
		t.Fatalf("nonzero exit must not be a runner error, got: %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
}

func TestRunStartFailureIsAnError(t *testing.T) {
	var sink bytes.Buffer
	r := NewExecRunner()

	_, err := r.Run(context.Background(), &sink, "/no/such/command-e4e")
	if err == nil {
		t.Fatal("expected an error for a command that cannot start")
	}
}

func TestRunAppliesEnvOverrides(t *testing.T) {
	var sink bytes.Buffer
	r := NewExecRunner()

	code, err := r.Run(context.Background(), &sink, "/bin/sh", "-c", `echo "term=$TERM nocolor=$NOCOLOR"`)
	if err != nil || code != 0 {
		t.Fatalf("unexpected result: code=%d err=%v", code, err)
	}
	if !strings.Contains(sink.String(), "term=dumb nocolor=1") {
		t.Fatalf("expected plain-terminal environment, got %q", sink.String())
	}
}

func TestRunStreamsIncrementally(t *testing.T) {
	// A sink that records each write shows output arrives per line,
	// not as one buffered blob at exit.
	var writes []string
	sink := writerFunc(func(p []byte) (int, error) {
		writes = append(writes, string(p))
		return len(p), nil
	})
	r := NewExecRunner()

	code, err := r.Run(context.Background(), sink, "/bin/sh", "-c", "echo one; echo two; echo three")
	if err != nil || code != 0 {
		t.Fatalf("unexpected result: code=%d err=%v", code, err)
	}
	if len(writes) < 4 { // command line + three lines
		t.Fatalf("expected line-by-line writes, got %d: %q", len(writes), writes)
	}
}

func TestRunSurvivesOverlongLines(t *testing.T) {
	var sink bytes.Buffer
	r := NewExecRunner()

	// A single line larger than the scanner buffer stops the line
	// reader; Run must still drain the pipe and reap the process
	// instead of blocking in Wait.
	script := `head -c 100000 /dev/zero | tr '\0' 'a'; echo; echo done`
	done := make(chan struct{})
	var code int
	var err error
	go func() {
		code, err = r.Run(context.Background(), &sink, "/bin/sh", "-c", script)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after an overlong output line")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
