package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"qcweekly/internal/config"
	"qcweekly/internal/figures"
	"qcweekly/internal/groupreport"
	"qcweekly/internal/logging"
	"qcweekly/internal/mailer"
	"qcweekly/internal/preflight"
	"qcweekly/internal/presence"
	"qcweekly/internal/report"
	"qcweekly/internal/services"
	"qcweekly/internal/services/bidsvalidator"
)

// AuditOptions returns the presence audit settings for cfg. The CSVs and
// reports land in the base folder.
func AuditOptions(cfg *config.Config, logger *slog.Logger) presence.Options {
	return presence.Options{
		BidsFolder:     cfg.Paths.BidsFolder,
		MRIQCRoot:      cfg.Paths.BaseFolder,
		DerivativesDir: cfg.MRIQCDerivativesDir(),
		OutputDir:      cfg.Paths.BaseFolder,
		Logger:         logger,
	}
}

// PresenceCSVs lists the presence trackers in cohort order.
func PresenceCSVs(cfg *config.Config) []string {
	return []string{cfg.ScanPresenceCSV("baseline"), cfg.ScanPresenceCSV("scan2")}
}

// GroupOptions returns aggregation settings for cfg. Nil labels rebuild
// every canonical TSV; a label list upserts only those participants.
func GroupOptions(cfg *config.Config, labels []string, day time.Time, logger *slog.Logger) groupreport.Options {
	return groupreport.Options{
		DerivativesDir: cfg.MRIQCDerivativesDir(),
		OutputDir:      cfg.WeeklyGroupReportsDir(),
		Labels:         labels,
		Outliers:       cfg.Group.Outliers,
		ZThreshold:     cfg.Group.ZThreshold,
		MinSamples:     cfg.Group.MinSamples,
		Date:           day,
		Logger:         logger,
	}
}

// NewValidator builds the Deno-hosted validator client for cfg.
func NewValidator(cfg *config.Config, logger *slog.Logger) (*bidsvalidator.Client, error) {
	client, err := bidsvalidator.New(cfg.Validator.Binary, cfg.Validator.Package, cfg.Validator.Flags,
		cfg.Validator.TimeoutSeconds, bidsvalidator.WithLogger(logger))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "validator", "configure", "", err)
	}
	return client, nil
}

// SendValidation emails the validator transcript as plain text.
func SendValidation(ctx context.Context, sender mailer.Sender, cfg *config.Config, res bidsvalidator.Result) error {
	subject := report.ValidationSubject(cfg.Email.SubjectPrefix, res.Status, cfg.Paths.BidsFolder)
	return sender.SendPlain(ctx, subject, report.ValidationBody(res, cfg.Paths.BidsFolder))
}

// SendMiniReport renders the HTML mini-report for the labels processed this
// run and mails it with every available figure inlined.
func SendMiniReport(ctx context.Context, sender mailer.Sender, cfg *config.Config, today time.Time, targets []string, art figures.Artifacts, emailOnly bool) error {
	data := report.NewData(today, cfg.WeeklyGroupReportsDir(), targets, art)
	data.EmailOnly = emailOnly
	html, err := report.BuildHTML(data)
	if err != nil {
		return err
	}
	images := make([]mailer.Image, 0, len(art.CIDToPath))
	for _, panel := range art.Panels {
		if path, ok := art.CIDToPath[panel.CID]; ok {
			images = append(images, mailer.Image{CID: panel.CID, Path: path})
		}
	}
	return sender.SendHTML(ctx, report.MiniReportSubject(data), html, images)
}

func (r *Runner) mailer(cfg *config.Config, logger *slog.Logger) (mailer.Sender, error) {
	if r.sender != nil {
		return r.sender, nil
	}
	return mailer.New(cfg, mailer.WithLogger(logger))
}

func (r *Runner) bidsValidator(cfg *config.Config, logger *slog.Logger) (bidsvalidator.Validator, error) {
	if r.validator != nil {
		return r.validator, nil
	}
	return NewValidator(cfg, logger)
}

// checkEnvironment runs the folder checks, plus the MRIQC backend check
// unless this is a dry run.
func (r *Runner) checkEnvironment(ctx context.Context, cfg *config.Config, dryRun bool) error {
	var results []preflight.Result
	if dryRun {
		results = []preflight.Result{
			preflight.CheckDirectoryReadable("BIDS folder", cfg.Paths.BidsFolder),
			preflight.CheckDirectoryAccess("Base folder", cfg.Paths.BaseFolder),
		}
	} else {
		results = preflight.RunAll(ctx, cfg, r.exec)
	}
	failed := preflight.Failed(results)
	if len(failed) == 0 {
		return nil
	}
	details := make([]string, 0, len(failed))
	for _, f := range failed {
		details = append(details, fmt.Sprintf("%s: %s", f.Name, f.Detail))
	}
	return services.Wrap(services.ErrConfiguration, "pipeline", "preflight", strings.Join(details, "; "), nil)
}

func logStep(logger *slog.Logger, stage, msg string, attrs ...logging.Attr) {
	attrs = append(attrs,
		logging.String(logging.FieldStage, stage),
		logging.String(logging.FieldEventType, "step_complete"),
	)
	logger.Info(msg, logging.Args(attrs...)...)
}
