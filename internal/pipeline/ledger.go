package pipeline

import (
	"context"
	"log/slog"

	"qcweekly/internal/config"
	"qcweekly/internal/history"
	"qcweekly/internal/logging"
	"qcweekly/internal/services"
	"qcweekly/internal/services/mriqc"
)

// ledger records a run in the history store. History failures are logged and
// never fail the run; a nil store records nothing.
type ledger struct {
	store  *history.Store
	runID  string
	logger *slog.Logger
}

func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger, runID string, mode history.Mode, dryRun bool) *ledger {
	l := &ledger{runID: runID, logger: logger}
	if !cfg.History.Enabled {
		return l
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		l.warn("run history unavailable", "history_open_failed", err)
		return l
	}
	if _, err := store.StartRun(ctx, runID, mode, cfg.Paths.BidsFolder, cfg.Paths.BaseFolder, dryRun); err != nil {
		l.warn("run history start failed", "history_start_failed", err)
		_ = store.Close()
		return l
	}
	l.store = store
	return l
}

func (l *ledger) subject(ctx context.Context, o mriqc.Outcome) {
	if l.store == nil {
		return
	}
	sr := history.SubjectRun{
		RunID:     l.runID,
		Label:     o.Label,
		Cohort:    string(o.Cohort),
		Status:    o.Status,
		ExitCode:  o.ExitCode,
		Attempts:  o.Attempts,
		Duration:  o.Duration,
		StdoutLog: o.StdoutLog,
		StderrLog: o.StderrLog,
	}
	if o.Err != nil {
		sr.Error = o.Err.Error()
	}
	if err := l.store.RecordSubject(ctx, sr); err != nil {
		l.warn("run history subject write failed", "history_subject_failed", err)
	}
}

func (l *ledger) finish(ctx context.Context, result Result, runErr error) {
	if l.store == nil {
		return
	}
	defer func() { _ = l.store.Close() }()
	summary := history.RunSummary{
		Targets: len(result.Targets),
		OK:      result.MRIQC.OK,
		Failed:  result.MRIQC.Failed,
		Err:     runErr,
	}
	if result.Declined && runErr == nil {
		summary.Status = services.OutcomeSkipped
	}
	if result.Validation != nil {
		summary.ValidatorStatus = string(result.Validation.Status)
	}
	if err := l.store.FinishRun(context.WithoutCancel(ctx), l.runID, summary); err != nil {
		l.warn("run history finish failed", "history_finish_failed", err)
	}
}

func (l *ledger) warn(msg, event string, err error) {
	logging.WarnWithContext(l.logger, msg, event,
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check history.path or disable history in the config"),
		logging.String(logging.FieldImpact, "this run is missing from qcweekly history"),
	)
}
