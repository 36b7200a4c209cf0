package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"qcweekly/internal/config"
	"qcweekly/internal/console"
	"qcweekly/internal/figures"
	"qcweekly/internal/groupreport"
	"qcweekly/internal/history"
	"qcweekly/internal/logging"
	"qcweekly/internal/mailer"
	"qcweekly/internal/presence"
	"qcweekly/internal/services/bidsvalidator"
	"qcweekly/internal/services/command"
	"qcweekly/internal/services/mriqc"
)

// Options mirrors the orchestrator flags. Empty folder and recipient values
// keep the configured ones.
type Options struct {
	BidsFolder string
	BaseFolder string
	Recipients []string
	// Yes skips the prompt after validation.
	Yes    bool
	DryRun bool
	// Timeout bounds each MRIQC participant when positive.
	Timeout     time.Duration
	SkipBidsVal bool
	// EmailOnly skips validation and MRIQC and mails figures built from the
	// existing group TSVs.
	EmailOnly bool
	// RerunGroup rebuilds every group TSV before an email-only report.
	RerunGroup bool
}

// Result describes what a run did.
type Result struct {
	RunID      string
	Mode       history.Mode
	RunLogPath string
	Validation *bidsvalidator.Result
	// Declined is set when the operator answered no at the prompt.
	Declined bool
	Presence presence.Result
	Targets  []string
	MRIQC    mriqc.Summary
	Group    groupreport.Result
	Figures  figures.Artifacts
	// ReportSent is set once the mini-report has been handed to sendmail.
	ReportSent bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger attaches the console logger; the per-run log file is teed onto it.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConsole sets where banners and the prompt are written.
func WithConsole(c *console.Console) Option {
	return func(r *Runner) {
		if c != nil {
			r.console = c
		}
	}
}

// WithValidator replaces the Deno-hosted validator.
func WithValidator(v bidsvalidator.Validator) Option {
	return func(r *Runner) {
		r.validator = v
	}
}

// WithMailer replaces sendmail delivery.
func WithMailer(s mailer.Sender) Option {
	return func(r *Runner) {
		r.sender = s
	}
}

// WithExecutor injects the executor used for MRIQC and the Docker daemon check.
func WithExecutor(exec command.Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithClock overrides the clock used for report dates and file names.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(r *Runner) {
		if next != nil {
			r.newID = next
		}
	}
}

// Runner executes weekly runs against one configuration.
type Runner struct {
	cfg       *config.Config
	logger    *slog.Logger
	console   *console.Console
	validator bidsvalidator.Validator
	sender    mailer.Sender
	exec      command.Executor
	now       func() time.Time
	newID     func() string
}

// New constructs a runner. The validator and mailer default to the real tools
// and are built per run so command-line overrides apply.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("pipeline requires config")
	}
	r := &Runner{
		cfg:     cfg,
		logger:  logging.NewNop(),
		console: console.Discard(),
		exec:    command.Exec{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}
