package pipeline

import (
	"context"
	"fmt"
	"time"

	"qcweekly/internal/console"
	"qcweekly/internal/figures"
	"qcweekly/internal/groupreport"
	"qcweekly/internal/history"
	"qcweekly/internal/logging"
	"qcweekly/internal/presence"
	"qcweekly/internal/services"
	"qcweekly/internal/services/command"
	"qcweekly/internal/services/mriqc"
)

// Run executes one weekly run. Declining the prompt or finding nothing to
// process ends the run without error and without the mini-report.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	mode := history.ModeWeekly
	if opts.EmailOnly {
		mode = history.ModeEmailOnly
	}
	ctx, s, err := r.begin(ctx, opts, mode)
	if err != nil {
		return Result{}, err
	}
	if opts.EmailOnly {
		err = r.emailOnly(ctx, s, opts)
	} else {
		err = r.weekly(ctx, s, opts)
	}
	return s.end(ctx, err)
}

// RunMRIQC runs MRIQC for labels under the same lock, run log, and history
// bookkeeping as a weekly run. Nil labels select every participant whose
// presence CSV row has MRIQC status 0.
func (r *Runner) RunMRIQC(ctx context.Context, labels []string, opts Options) (Result, error) {
	ctx, s, err := r.begin(ctx, opts, history.ModeMRIQC)
	if err != nil {
		return Result{}, err
	}
	err = func() error {
		if err := r.checkEnvironment(ctx, &s.cfg, opts.DryRun); err != nil {
			return err
		}
		if labels == nil {
			rows, err := presence.LoadCSV(PresenceCSVs(&s.cfg)...)
			if err != nil {
				return err
			}
			labels = presence.MissingMRIQC(rows)
		}
		s.result.Targets = labels
		if len(labels) == 0 {
			r.console.Println("No subjects with MRIQC == 0 found. Nothing to run.")
			return nil
		}
		summary, err := r.runMRIQC(ctx, s, opts, labels)
		s.result.MRIQC = summary
		return err
	}()
	return s.end(ctx, err)
}

func (r *Runner) weekly(ctx context.Context, s *session, opts Options) error {
	cfg, logger, today, result := &s.cfg, s.logger, s.today, &s.result
	out := r.console
	out.Banner(console.ToneNotice, "##### qcweekly: weekly MRIQC run #####")
	if err := r.checkEnvironment(ctx, cfg, opts.DryRun); err != nil {
		return err
	}
	sender, err := r.mailer(cfg, logger)
	if err != nil {
		return err
	}

	if !opts.SkipBidsVal {
		out.Banner(console.ToneStep, "\nSTEP 1: BIDS validation...")
		validator, err := r.bidsValidator(cfg, logger)
		if err != nil {
			return err
		}
		res, err := validator.Validate(services.WithStage(ctx, "validator"), cfg.Paths.BidsFolder, cfg.ValidatorOutputsDir())
		if err != nil {
			return err
		}
		result.Validation = &res
		logStep(logger, "validator", "bids validation complete",
			logging.String("status", string(res.Status)),
			logging.Int("return_code", res.ReturnCode),
			logging.String("output_path", res.OutputFile),
		)

		out.Banner(console.ToneMail, "\nSTEP 2: Email validator output")
		if err := SendValidation(ctx, sender, cfg, res); err != nil {
			return err
		}
	}

	if !opts.Yes {
		ok, err := out.Confirm("\nContinue to MRIQC?")
		if err != nil {
			return err
		}
		if !ok {
			result.Declined = true
			logger.Info("operator declined to continue", logging.String(logging.FieldEventType, "run_declined"))
			return nil
		}
	}

	out.Banner(console.ToneSearch, "STEP 3: Find missing MRIQCs...")
	audit, err := presence.Audit(services.WithStage(ctx, "presence"), AuditOptions(cfg, logger))
	if err != nil {
		return err
	}
	result.Presence = audit
	rows, err := presence.LoadCSV(audit.CSVPaths()...)
	if err != nil {
		return err
	}
	result.Targets = presence.MissingMRIQC(rows)
	out.Println("! We have %d to qc", len(result.Targets))
	logStep(logger, "presence", "presence audit complete",
		logging.Int("subjects", len(rows)),
		logging.Int("targets", len(result.Targets)),
	)
	if len(result.Targets) == 0 {
		out.Println("No subjects with MRIQC == 0 found. Nothing to run.")
		return nil
	}

	out.Banner(console.ToneSearch, "\nSTEP 3b: Run MRIQC on newly converted scans...")
	summary, err := r.runMRIQC(ctx, s, opts, result.Targets)
	result.MRIQC = summary
	if err != nil {
		return err
	}

	out.Banner(console.ToneGroup, "\nSTEP 4: Aggregate new MRIQC output for group report")
	group, err := groupreport.Build(services.WithStage(ctx, "group"), GroupOptions(cfg, result.Targets, today, logger))
	if err != nil {
		return err
	}
	result.Group = group

	figOpts := figures.OptionsFromConfig(cfg, today)
	figOpts.Logger = logger
	art, err := figures.Make(services.WithStage(ctx, "figures"), figOpts)
	if err != nil {
		return err
	}
	result.Figures = art

	out.Banner(console.ToneStep, "\nSTEP 5: Email group report")
	if err := SendMiniReport(ctx, sender, cfg, today, result.Targets, art, false); err != nil {
		return err
	}
	result.ReportSent = true
	out.Banner(console.ToneNotice, "\nAll done.")
	return nil
}

func (r *Runner) runMRIQC(ctx context.Context, s *session, opts Options, targets []string) (mriqc.Summary, error) {
	logger := s.logger
	runner, err := mriqc.New(mriqc.SettingsFromConfig(&s.cfg), mriqc.WithExecutor(r.exec), mriqc.WithLogger(logger))
	if err != nil {
		return mriqc.Summary{}, services.Wrap(services.ErrConfiguration, "mriqc", "configure", "", err)
	}
	var spinner *console.Spinner
	runOpts := mriqc.Options{
		Timeout: opts.Timeout,
		DryRun:  opts.DryRun,
		OnStart: func(label string, index, total int, spec command.Spec) {
			if opts.DryRun {
				r.console.Println("[dry-run] %s", spec.String())
				return
			}
			spinner = r.console.StartSpinner(fmt.Sprintf("MRIQC sub-%s (%d/%d)", label, index, total))
		},
		OnFinish: func(o mriqc.Outcome) {
			spinner.Stop()
			spinner = nil
			if !opts.DryRun {
				r.console.Println("sub-%s: %s (%s)", o.Label, o.Status, o.Duration.Round(time.Second))
			}
			s.ledger.subject(ctx, o)
		},
	}
	summary, err := runner.Run(services.WithStage(ctx, "mriqc"), targets, runOpts)
	spinner.Stop()
	logStep(logger, "mriqc", "mriqc complete",
		logging.Int("targets", len(summary.Targets)),
		logging.Int("ok", summary.OK),
		logging.Int("failed", summary.Failed),
		logging.String("logs_dir", summary.LogsDir),
	)
	return summary, err
}

func (r *Runner) emailOnly(ctx context.Context, s *session, opts Options) error {
	cfg, logger, today, result := &s.cfg, s.logger, s.today, &s.result
	out := r.console
	out.Banner(console.ToneWarn, "in EMAIL ONLY mode. No MRIQC will be run. Only the report is sent.")
	sender, err := r.mailer(cfg, logger)
	if err != nil {
		return err
	}
	if opts.RerunGroup {
		out.Banner(console.ToneGroup, "Rebuilding group reports from every MRIQC output")
		group, err := groupreport.Build(services.WithStage(ctx, "group"), GroupOptions(cfg, nil, today, logger))
		if err != nil {
			return err
		}
		result.Group = group
	}
	figOpts := figures.OptionsFromConfig(cfg, today)
	figOpts.Logger = logger
	art, err := figures.Make(services.WithStage(ctx, "figures"), figOpts)
	if err != nil {
		return err
	}
	result.Figures = art
	if err := SendMiniReport(ctx, sender, cfg, today, nil, art, true); err != nil {
		return err
	}
	result.ReportSent = true
	out.Println("Done")
	return nil
}
