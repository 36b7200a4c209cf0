package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"qcweekly/internal/config"
	"qcweekly/internal/history"
	"qcweekly/internal/logging"
	"qcweekly/internal/services"
)

// session is the state shared by every step of one run: the effective
// config, the lock on the base folder, the teed logger, and the ledger.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	ledger  *ledger
	today   time.Time
	started time.Time
	result  Result
	lock    *flock.Flock
	runLog  *logging.RunLog
}

func (r *Runner) begin(ctx context.Context, opts Options, mode history.Mode) (context.Context, *session, error) {
	s := &session{cfg: *r.cfg}
	s.cfg.Email.Recipients = append([]string(nil), r.cfg.Email.Recipients...)
	if err := s.cfg.ApplyOverrides(opts.BidsFolder, opts.BaseFolder, opts.Recipients); err != nil {
		return ctx, nil, services.Wrap(services.ErrConfiguration, "pipeline", "apply overrides", "", err)
	}
	if err := s.cfg.Validate(); err != nil {
		return ctx, nil, services.Wrap(services.ErrConfiguration, "pipeline", "validate config", "", err)
	}
	if err := s.cfg.EnsureDirectories(); err != nil {
		return ctx, nil, services.Wrap(services.ErrConfiguration, "pipeline", "prepare directories", "", err)
	}

	s.lock = flock.New(s.cfg.LockPath())
	locked, err := s.lock.TryLock()
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return ctx, nil, services.Wrap(services.ErrValidation, "pipeline", "acquire run lock",
			"another qcweekly run is active in "+s.cfg.Paths.BaseFolder, nil)
	}

	s.today = r.now()
	s.started = time.Now()
	s.result = Result{RunID: r.newID(), Mode: mode}
	ctx = services.WithRunID(ctx, s.result.RunID)

	logger := r.logger
	runLog, err := logging.OpenRunLog(s.cfg.Paths.LogDir, s.today, s.result.RunID, s.cfg.Logging.Format)
	if err != nil {
		logging.WarnWithContext(logger, "run log unavailable", "run_log_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.log_dir permissions"),
			logging.String(logging.FieldImpact, "this run is logged to the console only"),
		)
	} else {
		s.runLog = runLog
		logger = logging.TeeLogger(logger, runLog.Handler)
		s.result.RunLogPath = runLog.Path
		logging.CleanupOldLogs(logger, s.cfg.Logging.RetentionDays, logging.RetentionTarget{
			Dir:     s.cfg.Paths.LogDir,
			Pattern: logging.RunLogPattern,
			Exclude: []string{runLog.Path},
		})
	}
	s.logger = logging.NewComponentLogger(logger, "pipeline").With(logging.String(logging.FieldRunID, s.result.RunID))
	s.logger.Info("run started",
		logging.String(logging.FieldEventType, "run_started"),
		logging.String("mode", string(mode)),
		logging.String("bids_folder", s.cfg.Paths.BidsFolder),
		logging.String("base_folder", s.cfg.Paths.BaseFolder),
		logging.Bool("dry_run", opts.DryRun),
	)
	s.ledger = openLedger(ctx, &s.cfg, s.logger, s.result.RunID, mode, opts.DryRun)
	return ctx, s, nil
}

// end records the outcome, closes the run log, and releases the lock.
func (s *session) end(ctx context.Context, err error) (Result, error) {
	defer func() { _ = s.lock.Unlock() }()
	defer func() { _ = s.runLog.Close() }()

	s.ledger.finish(ctx, s.result, err)
	if err != nil {
		logging.ErrorWithContext(s.logger, "run failed", "run_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorDetailPath, s.result.RunLogPath),
		)
		return s.result, err
	}
	s.logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_finished"),
		logging.Int("targets", len(s.result.Targets)),
		logging.Int("ok", s.result.MRIQC.OK),
		logging.Int("failed", s.result.MRIQC.Failed),
		logging.Bool("report_sent", s.result.ReportSent),
		logging.Duration("elapsed", time.Since(s.started)),
	)
	return s.result, nil
}
