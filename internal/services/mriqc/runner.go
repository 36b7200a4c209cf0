package mriqc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"qcweekly/internal/cohort"
	"qcweekly/internal/config"
	"qcweekly/internal/logging"
	"qcweekly/internal/services"
	"qcweekly/internal/services/command"
)

// Mode selects how MRIQC is launched.
type Mode string

const (
	ModeDocker Mode = "docker"
	ModeScript Mode = "script"
)

// Settings describes one MRIQC installation.
type Settings struct {
	Mode           Mode
	DockerBinary   string
	Image          string
	Script         string
	BidsFolder     string
	DerivativesDir string
	WorkDir        string
	LogsDir        string
	NProcs         int
	MemGB          int
	ExtraArgs      []string
	RunAsUser      bool
	Timeout        time.Duration
	Retries        int
}

// SettingsFromConfig derives runner settings from application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Mode:           Mode(cfg.MRIQC.Mode),
		DockerBinary:   cfg.MRIQC.DockerBinary,
		Image:          cfg.MRIQC.Image,
		Script:         cfg.MRIQCScript(),
		BidsFolder:     cfg.Paths.BidsFolder,
		DerivativesDir: cfg.MRIQCDerivativesDir(),
		WorkDir:        cfg.MRIQCWorkDir(),
		LogsDir:        cfg.MRIQCLogsDir(),
		NProcs:         cfg.MRIQC.NProcs,
		MemGB:          cfg.MRIQC.MemGB,
		ExtraArgs:      append([]string(nil), cfg.MRIQC.ExtraArgs...),
		RunAsUser:      cfg.MRIQC.RunAsUser,
		Timeout:        time.Duration(cfg.MRIQC.TimeoutSeconds) * time.Second,
		Retries:        cfg.MRIQC.Retries,
	}
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec command.Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.NewComponentLogger(logger, "mriqc")
	}
}

// WithUser overrides the uid/gid lookup used for docker -u.
func WithUser(lookup func() (uid, gid int)) Option {
	return func(r *Runner) {
		if lookup != nil {
			r.user = lookup
		}
	}
}

// Runner invokes MRIQC once per participant, sequentially.
type Runner struct {
	settings Settings
	exec     command.Executor
	logger   *slog.Logger
	user     func() (int, int)
}

// New constructs a runner.
func New(settings Settings, opts ...Option) (*Runner, error) {
	switch settings.Mode {
	case ModeDocker:
		if strings.TrimSpace(settings.Image) == "" {
			return nil, errors.New("mriqc image required in docker mode")
		}
		if strings.TrimSpace(settings.DockerBinary) == "" {
			settings.DockerBinary = "docker"
		}
	case ModeScript:
		if strings.TrimSpace(settings.Script) == "" {
			return nil, errors.New("mriqc script required in script mode")
		}
	default:
		return nil, fmt.Errorf("unsupported mriqc mode %q", settings.Mode)
	}
	if strings.TrimSpace(settings.LogsDir) == "" {
		return nil, errors.New("mriqc logs directory required")
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	runner := &Runner{
		settings: settings,
		exec:     command.Exec{},
		logger:   logging.NewNop(),
		user:     func() (int, int) { return os.Getuid(), os.Getgid() },
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// Options tunes a single Run call.
type Options struct {
	// Timeout overrides the configured per-subject timeout when positive.
	Timeout time.Duration
	DryRun  bool
	// OnStart is called before each participant is launched.
	OnStart func(label string, index, total int, spec command.Spec)
	// OnFinish is called after each participant completes.
	OnFinish func(outcome Outcome)
}

// Outcome records one participant's MRIQC invocation.
type Outcome struct {
	Label     string
	Cohort    cohort.Cohort
	Status    services.Outcome
	ExitCode  int
	Attempts  int
	Duration  time.Duration
	Command   string
	StdoutLog string
	StderrLog string
	Err       error
}

// Summary aggregates a Run.
type Summary struct {
	Targets  []string
	OK       int
	Failed   int
	LogsDir  string
	DryRun   bool
	Outcomes []Outcome
}

// Spec returns the command used for label.
func (r *Runner) Spec(label string, timeout time.Duration) command.Spec {
	if timeout <= 0 {
		timeout = r.settings.Timeout
	}
	if r.settings.Mode == ModeScript {
		return command.Spec{Binary: "bash", Args: []string{r.settings.Script, label}, Timeout: timeout}
	}
	s := r.settings
	args := []string{"run", "--rm"}
	if s.RunAsUser {
		if uid, gid := r.user(); uid >= 0 && gid >= 0 {
			args = append(args, "-u", strconv.Itoa(uid)+":"+strconv.Itoa(gid))
		}
	}
	args = append(args,
		"-v", s.BidsFolder+":/data:ro",
		"-v", s.DerivativesDir+":/out",
		"-v", s.WorkDir+":/work",
		s.Image,
		"/data", "/out", "participant",
		"--participant-label", label,
		"--no-sub",
		"-w", "/work",
	)
	if s.NProcs > 0 {
		args = append(args, "--nprocs", strconv.Itoa(s.NProcs))
	}
	if s.MemGB > 0 {
		args = append(args, "--mem_gb", strconv.Itoa(s.MemGB))
	}
	args = append(args, s.ExtraArgs...)
	return command.Spec{Binary: s.DockerBinary, Args: args, Timeout: timeout}
}

// LogPaths returns the stdout and stderr capture files for label.
func (r *Runner) LogPaths(label string) (string, string) {
	return filepath.Join(r.settings.LogsDir, "mriqc_"+label+".out.txt"),
		filepath.Join(r.settings.LogsDir, "mriqc_"+label+".err.txt")
}

// Run executes MRIQC for each target in order. A failing participant is
// counted and the run continues; cancellation stops the loop and returns the
// partial summary with the context error.
func (r *Runner) Run(ctx context.Context, targets []string, opts Options) (Summary, error) {
	summary := Summary{
		Targets: append([]string(nil), targets...),
		LogsDir: r.settings.LogsDir,
		DryRun:  opts.DryRun,
	}
	if err := r.prepare(opts.DryRun); err != nil {
		return summary, err
	}

	for i, label := range targets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		c, _ := cohort.Classify(label)
		subjectCtx := services.WithCohort(services.WithSubject(ctx, label), string(c))
		logger := logging.WithContext(subjectCtx, r.logger)

		spec := r.Spec(label, opts.Timeout)
		if opts.OnStart != nil {
			opts.OnStart(label, i+1, len(targets), spec)
		}
		logger.Info("mriqc command", logging.String("command", spec.String()), logging.Bool("dry_run", opts.DryRun))

		outcome := Outcome{Label: label, Cohort: c, Command: spec.String()}
		if opts.DryRun {
			outcome.Status = services.OutcomeSkipped
		} else {
			outcome = r.runOne(subjectCtx, logger, spec, outcome)
			if errors.Is(outcome.Err, context.Canceled) {
				summary.Outcomes = append(summary.Outcomes, outcome)
				return summary, ctx.Err()
			}
			if outcome.Status == services.OutcomeSucceeded {
				summary.OK++
			} else {
				summary.Failed++
			}
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
		if opts.OnFinish != nil {
			opts.OnFinish(outcome)
		}
	}
	return summary, nil
}

func (r *Runner) prepare(dryRun bool) error {
	if r.settings.Mode == ModeScript {
		if _, err := os.Stat(r.settings.Script); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return services.Wrap(services.ErrNotFound, "mriqc", "locate script", "run_mriqc_local.sh not found at: "+r.settings.Script, err)
			}
			return services.Wrap(services.ErrConfiguration, "mriqc", "locate script", r.settings.Script, err)
		}
	}
	if dryRun {
		return nil
	}
	dirs := []string{r.settings.LogsDir}
	if r.settings.Mode == ModeDocker {
		dirs = append(dirs, r.settings.DerivativesDir, r.settings.WorkDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "mriqc", "prepare directories", dir, err)
		}
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, logger *slog.Logger, spec command.Spec, outcome Outcome) Outcome {
	outcome.StdoutLog, outcome.StderrLog = r.LogPaths(outcome.Label)
	maxAttempts := 1 + r.settings.Retries
	started := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt
		res, err := r.exec.Run(ctx, spec)
		outcome.ExitCode = res.ExitCode
		if writeErr := r.writeLogs(outcome, res); writeErr != nil {
			logging.WarnWithContext(logger, "mriqc log capture failed", "mriqc_log_write_failed",
				logging.Error(writeErr),
				logging.String(logging.FieldImpact, "participant output not saved to mriqc_local_logs"),
			)
		}
		switch {
		case err != nil && ctx.Err() != nil:
			outcome.Status = services.FailureOutcome(ctx.Err())
			outcome.Err = ctx.Err()
			outcome.Duration = time.Since(started)
			return outcome
		case err != nil:
			outcome.Status = services.FailureOutcome(err)
			outcome.Err = err
			if res.TimedOut {
				logging.WarnWithContext(logger, "mriqc timed out", "mriqc_timeout",
					logging.Duration("timeout", spec.Timeout),
					logging.String(logging.FieldErrorDetailPath, outcome.StderrLog),
					logging.String(logging.FieldErrorHint, "raise --timeout or mriqc.timeout_seconds"),
					logging.String(logging.FieldImpact, "participant left without MRIQC output"),
				)
				outcome.Duration = time.Since(started)
				return outcome
			}
		case res.ExitCode == 0:
			outcome.Status = services.OutcomeSucceeded
			outcome.Err = nil
			outcome.Duration = time.Since(started)
			logger.Info("mriqc finished",
				logging.String(logging.FieldEventType, "mriqc_subject_complete"),
				logging.Int("attempts", attempt),
				logging.Duration("duration", outcome.Duration),
				logging.String("output_path", outcome.StdoutLog),
			)
			return outcome
		default:
			outcome.Status = services.OutcomeFailed
			outcome.Err = services.Wrap(services.ErrExternalTool, "mriqc", spec.Binary, fmt.Sprintf("exit status %d", res.ExitCode), nil)
		}
		if attempt < maxAttempts {
			logger.Warn("mriqc attempt failed; retrying",
				logging.Int("attempt", attempt),
				logging.Int("exit_code", res.ExitCode),
				logging.String(logging.FieldEventType, "mriqc_retry"),
				logging.String(logging.FieldErrorHint, "see "+outcome.StderrLog),
				logging.String(logging.FieldImpact, "participant will be attempted again"),
			)
		}
	}
	outcome.Duration = time.Since(started)
	logging.ErrorWithContext(logger, "mriqc failed", "mriqc_subject_failed",
		logging.Int("exit_code", outcome.ExitCode),
		logging.Int("attempts", outcome.Attempts),
		logging.Error(outcome.Err),
		logging.String(logging.FieldErrorDetailPath, outcome.StderrLog),
		logging.String(logging.FieldErrorHint, "check that docker is running and the participant has a T1w"),
	)
	return outcome
}

func (r *Runner) writeLogs(outcome Outcome, res command.Result) error {
	if err := os.WriteFile(outcome.StdoutLog, []byte(res.Stdout), 0o644); err != nil {
		return err
	}
	return os.WriteFile(outcome.StderrLog, []byte(res.Stderr), 0o644)
}
