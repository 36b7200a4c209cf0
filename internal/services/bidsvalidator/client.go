package bidsvalidator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qcweekly/internal/logging"
	"qcweekly/internal/services"
	"qcweekly/internal/services/command"
)

// Status summarizes a validator invocation.
type Status string

const (
	StatusSuccess     Status = "SUCCESS"
	StatusIssuesFound Status = "ISSUES_FOUND"
	StatusFailed      Status = "FAILED"
)

// Result captures the validator outcome and where its transcript was saved.
type Result struct {
	Status     Status
	ReturnCode int
	Stdout     string
	Stderr     string
	OutputFile string
	Duration   time.Duration
}

// Validator defines the behaviour the pipeline needs from the BIDS validator.
type Validator interface {
	Validate(ctx context.Context, dataset, outputDir string) (Result, error)
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec command.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithClock overrides the clock used to date the transcript.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "bids-validator")
	}
}

// Client wraps the Deno-hosted BIDS validator.
type Client struct {
	binary  string
	pkg     string
	flags   []string
	timeout time.Duration
	exec    command.Executor
	now     func() time.Time
	logger  *slog.Logger
}

// New constructs a validator client. flags is split on whitespace.
func New(binary, pkg, flags string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("validator binary required")
	}
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return nil, errors.New("validator package required")
	}
	client := &Client{
		binary:  binary,
		pkg:     pkg,
		flags:   strings.Fields(flags),
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    command.Exec{},
		now:     time.Now,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Spec returns the command the client runs for dataset.
func (c *Client) Spec(dataset string) command.Spec {
	args := make([]string, 0, len(c.flags)+3)
	args = append(args, "run")
	args = append(args, c.flags...)
	args = append(args, c.pkg, dataset)
	return command.Spec{Binary: c.binary, Args: args, Timeout: c.timeout}
}

// OutputName returns the transcript file name for a run on day.
func OutputName(day time.Time) string {
	return fmt.Sprintf("bids_validator_output_%s.txt", day.Format("2006-01-02"))
}

// Validate runs the validator against dataset and writes the dated transcript
// into outputDir. A non-zero exit is reported as ISSUES_FOUND; a validator that
// cannot start or times out is reported as FAILED. Only failing to write the
// transcript is returned as an error.
func (c *Client) Validate(ctx context.Context, dataset, outputDir string) (Result, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "validator", "prepare output", outputDir, err)
	}
	result := Result{OutputFile: filepath.Join(outputDir, OutputName(c.now()))}

	spec := c.Spec(dataset)
	c.logger.Debug("running bids validator", logging.String("command", spec.String()))
	res, err := c.exec.Run(ctx, spec)
	result.Duration = res.Duration
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		result.Status = StatusFailed
		result.ReturnCode = 1
		result.Stdout = res.Stdout
		result.Stderr = err.Error()
		logging.WarnWithContext(c.logger, "bids validator did not complete", "validator_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that deno is installed and the dataset path is readable"),
			logging.String(logging.FieldImpact, "dataset validity unknown; review before continuing"),
		)
	case res.ExitCode == 0:
		result.Status = StatusSuccess
		result.ReturnCode = 0
		result.Stdout, result.Stderr = res.Stdout, res.Stderr
	default:
		result.Status = StatusIssuesFound
		result.ReturnCode = res.ExitCode
		result.Stdout, result.Stderr = res.Stdout, res.Stderr
	}

	if err := os.WriteFile(result.OutputFile, []byte(FormatTranscript(result)), 0o644); err != nil {
		return result, services.Wrap(services.ErrExternalTool, "validator", "write transcript", result.OutputFile, err)
	}
	c.logger.Info("bids validation finished",
		logging.String(logging.FieldEventType, "validator_complete"),
		logging.String("status", string(result.Status)),
		logging.Int("exit_code", result.ReturnCode),
		logging.String("output_path", result.OutputFile),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

// FormatTranscript renders the saved validator output file.
func FormatTranscript(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RETURN CODE:\n%d\n\n", r.ReturnCode)
	fmt.Fprintf(&b, "STDOUT:\n%s\n\n", r.Stdout)
	fmt.Fprintf(&b, "STDERR:\n%s\n", r.Stderr)
	return b.String()
}
