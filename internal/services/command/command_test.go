package command_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qcweekly/internal/services"
	"qcweekly/internal/services/command"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecCapturesStreamsAndExitCode(t *testing.T) {
	script := writeScript(t, `echo "out line"; echo "err line" 1>&2; exit 3`)

	var lines []string
	result, err := command.Exec{}.Run(context.Background(), command.Spec{
		Binary: script,
		OnLine: func(stream command.Stream, line string) {
			lines = append(lines, string(stream)+":"+line)
		},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "out line" {
		t.Fatalf("unexpected stdout %q", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "err line" {
		t.Fatalf("unexpected stderr %q", result.Stderr)
	}
	if len(lines) != 2 {
		t.Fatalf("expected two streamed lines, got %v", lines)
	}
}

func TestExecFeedsStdinAndTees(t *testing.T) {
	script := writeScript(t, `cat`)
	var tee strings.Builder

	result, err := command.Exec{}.Run(context.Background(), command.Spec{
		Binary:    script,
		Stdin:     strings.NewReader("To: pi@example.edu\n\nhello\n"),
		StdoutTee: &tee,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected success, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Fatalf("expected stdin echoed, got %q", result.Stdout)
	}
	if tee.String() != result.Stdout {
		t.Fatalf("tee mismatch: %q vs %q", tee.String(), result.Stdout)
	}
}

func TestExecTimeoutMarksResult(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)

	result, err := command.Exec{}.Run(context.Background(), command.Spec{
		Binary:  script,
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected TimedOut to be set")
	}
}

func TestExecTimeoutKillsChildProcesses(t *testing.T) {
	script := writeScript(t, `sleep 4; echo done`)

	started := time.Now()
	result, err := command.Exec{}.Run(context.Background(), command.Spec{
		Binary:  "bash",
		Args:    []string{script},
		Timeout: 300 * time.Millisecond,
	})
	elapsed := time.Since(started)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected TimedOut to be set")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("timeout should stop the child's sleep, returned after %s", elapsed)
	}
	if strings.Contains(result.Stdout, "done") {
		t.Fatalf("script should not have finished, stdout %q", result.Stdout)
	}
}

func TestExecMissingBinary(t *testing.T) {
	_, err := command.Exec{}.Run(context.Background(), command.Spec{
		Binary: filepath.Join(t.TempDir(), "does-not-exist"),
	})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestSpecStringQuotesArguments(t *testing.T) {
	spec := command.Spec{Binary: "docker", Args: []string{"run", "-v", "/data/my study:/data:ro", ""}}
	got := spec.String()
	want := `docker run -v '/data/my study:/data:ro' ''`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
