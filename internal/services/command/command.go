package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"qcweekly/internal/services"
)

// Stream identifies which pipe a line was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// maxLineBytes bounds a single output line; MRIQC and the validator can emit
// very long JSON fragments.
const maxLineBytes = 4 * 1024 * 1024

// pipeGrace is how long output is still read after a timeout or cancel.
const pipeGrace = 2 * time.Second

// Spec describes one external program invocation.
type Spec struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
	Stdin  io.Reader
	// Timeout bounds the invocation; zero means only ctx applies.
	Timeout time.Duration
	// OnLine receives each output line as it arrives.
	OnLine func(stream Stream, line string)
	// StdoutTee and StderrTee receive a raw copy of each stream.
	StdoutTee io.Writer
	StderrTee io.Writer
}

// String renders the command line for logs and dry runs.
func (s Spec) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, quoteArg(s.Binary))
	for _, arg := range s.Args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

// Result captures what a finished process produced.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Executor abstracts command execution for testability.
//
// A process that starts and exits non-zero is reported through
// Result.ExitCode with a nil error. Errors are reserved for failures to start,
// timeouts, and cancellation.
type Executor interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Exec runs programs with os/exec.
type Exec struct{}

// Run starts the program, streams both pipes, and waits for it to exit.
func (Exec) Run(ctx context.Context, spec Spec) (Result, error) {
	binary := strings.TrimSpace(spec.Binary)
	if binary == "" {
		return Result{ExitCode: -1}, services.Wrap(services.ErrConfiguration, "", "exec", "binary required", nil)
	}
	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, binary, spec.Args...) //nolint:gosec
	cmd.Dir = spec.Dir
	// Children such as `bash script -> docker run` share the group and die
	// with it when the context ends.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd.Process) }
	cmd.WaitDelay = pipeGrace
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, services.Wrap(services.ErrExternalTool, "", binary, "start failed", err)
	}

	// A descendant that left the group can still hold the pipes open; stop
	// reading from them once the grace period after cancellation has passed.
	release := context.AfterFunc(runCtx, func() {
		time.AfterFunc(pipeGrace, func() {
			_ = stdout.Close()
			_ = stderr.Close()
		})
	})
	defer release()

	var (
		mu      sync.Mutex
		outBuf  strings.Builder
		errBuf  strings.Builder
		readers errgroup.Group
		onLine  = spec.OnLine
	)
	collect := func(r io.Reader, stream Stream, buf *strings.Builder, tee io.Writer) func() error {
		return func() error {
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
			for scanner.Scan() {
				line := scanner.Text()
				mu.Lock()
				buf.WriteString(line)
				buf.WriteByte('\n')
				if tee != nil {
					_, _ = io.WriteString(tee, line+"\n")
				}
				if onLine != nil {
					onLine(stream, line)
				}
				mu.Unlock()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("scan %s: %w", stream, err)
			}
			return nil
		}
	}
	readers.Go(collect(stdout, Stdout, &outBuf, spec.StdoutTee))
	readers.Go(collect(stderr, Stderr, &errBuf, spec.StderrTee))

	scanErr := readers.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Duration: time.Since(started),
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			result.TimedOut = true
			return result, services.Wrap(services.ErrTimeout, "", binary, fmt.Sprintf("exceeded %s", spec.Timeout), ctxErr)
		}
		return result, ctx.Err()
	}
	if scanErr != nil {
		return result, services.Wrap(services.ErrExternalTool, "", binary, "read output", scanErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return result, nil
		}
		return result, services.Wrap(services.ErrExternalTool, "", binary, "wait", waitErr)
	}
	return result, nil
}

func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return p.Kill()
	}
	return nil
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if strings.ContainsAny(arg, " \t\n'\"\\$`|&;<>()*?") {
		return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return arg
}
