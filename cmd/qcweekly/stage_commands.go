package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qcweekly/internal/cohort"
	"qcweekly/internal/console"
	"qcweekly/internal/figures"
	"qcweekly/internal/groupreport"
	"qcweekly/internal/mailer"
	"qcweekly/internal/pipeline"
	"qcweekly/internal/presence"
	"qcweekly/internal/services"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var email bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the BIDS validator and save its transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.validConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			var sender mailer.Sender
			if email {
				if sender, err = mailer.New(cfg, mailer.WithLogger(logger)); err != nil {
					return err
				}
			}
			validator, err := pipeline.NewValidator(cfg, logger)
			if err != nil {
				return err
			}
			res, err := validator.Validate(services.WithStage(cmd.Context(), "validator"), cfg.Paths.BidsFolder, cfg.ValidatorOutputsDir())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderKeyValues([][2]string{
				{"Status", string(res.Status)},
				{"Exit code", fmt.Sprint(res.ReturnCode)},
				{"Duration", res.Duration.Round(time.Second).String()},
				{"Output", res.OutputFile},
			}))
			if sender == nil {
				return nil
			}
			if err := pipeline.SendValidation(cmd.Context(), sender, cfg, res); err != nil {
				return err
			}
			fmt.Fprintf(out, "Emailed validator output to %s\n", strings.Join(cfg.Email.Recipients, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&email, "email", false, "Email the validator output to the configured recipients")
	return cmd
}

func newPresenceCommand(ctx *commandContext) *cobra.Command {
	var showReport bool

	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Audit scan presence and write the per-cohort CSVs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.validConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			res, err := presence.Audit(services.WithStage(cmd.Context(), "presence"), pipeline.AuditOptions(cfg, logger))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			headers := []string{"Cohort", "Subjects", "Incomplete", "MRIQC pending", "CSV"}
			rows := make([][]string, 0, len(res.Cohorts))
			var all []presence.Row
			for _, c := range res.Cohorts {
				incomplete := 0
				for _, row := range c.Rows {
					if len(row.Missing()) > 0 {
						incomplete++
					}
				}
				rows = append(rows, []string{
					c.Cohort.Title(),
					fmt.Sprint(len(c.Rows)),
					fmt.Sprint(incomplete),
					fmt.Sprint(len(presence.MissingMRIQC(c.Rows))),
					c.CSVPath,
				})
				all = append(all, c.Rows...)
			}
			fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft}))
			fmt.Fprintf(out, "%d participant(s) need MRIQC\n", len(presence.MissingMRIQC(all)))
			if showReport {
				for _, c := range res.Cohorts {
					fmt.Fprintln(out)
					fmt.Fprint(out, presence.FormatReport(c.Cohort, c.Rows))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showReport, "report", false, "Also print the missing-scan reports")
	return cmd
}

func newMRIQCCommand(ctx *commandContext) *cobra.Command {
	var (
		dryRun         bool
		timeoutSeconds int
	)

	cmd := &cobra.Command{
		Use:   "mriqc [labels...]",
		Short: "Run MRIQC for participants",
		Long: `Run MRIQC for the given participant labels (1001, sub-1001, 10011, or
comma separated lists). Without labels, every participant whose presence CSV
row has MRIQC status 0 is processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			if timeoutSeconds < 0 {
				return fmt.Errorf("--timeout must be >= 0, got %d", timeoutSeconds)
			}
			labels := cohort.ParseLabels(args)
			if len(args) > 0 && len(labels) == 0 {
				return fmt.Errorf("no usable participant labels in %q", strings.Join(args, " "))
			}
			if _, _, err := cohort.Split(labels); err != nil {
				return err
			}

			out := console.New(cmd.OutOrStdout(), cmd.InOrStdin())
			runner, err := pipeline.New(cfg, pipeline.WithLogger(logger), pipeline.WithConsole(out))
			if err != nil {
				return err
			}
			result, runErr := runner.RunMRIQC(cmd.Context(), labels, pipeline.Options{
				DryRun:  dryRun,
				Timeout: time.Duration(timeoutSeconds) * time.Second,
			})
			if len(result.MRIQC.Outcomes) > 0 && !dryRun {
				printOutcomes(cmd, result)
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the MRIQC commands without running them")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Per-participant timeout in seconds (0 uses mriqc.timeout_seconds)")
	return cmd
}

func printOutcomes(cmd *cobra.Command, result pipeline.Result) {
	rows := make([][]string, 0, len(result.MRIQC.Outcomes))
	for _, o := range result.MRIQC.Outcomes {
		rows = append(rows, []string{
			"sub-" + o.Label,
			string(o.Cohort),
			string(o.Status),
			fmt.Sprint(o.Attempts),
			o.Duration.Round(time.Second).String(),
			o.StderrLog,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Participant", "Cohort", "Status", "Attempts", "Duration", "Stderr log"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
}

func newGroupCommand(ctx *commandContext) *cobra.Command {
	var (
		derivDir   string
		outDir     string
		subjects   []string
		noOutliers bool
		zThresh    float64
		minSamples int
	)

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Aggregate MRIQC IQM JSONs into group TSVs",
		Long: `Aggregate IQM JSONs into per-cohort T1w and BOLD TSVs. With --subjects the
dated snapshots hold only those participants and are upserted into the
canonical TSVs; without it every participant is aggregated and the canonical
TSVs are rebuilt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			labels := cohort.ParseLabels(subjects)
			if len(subjects) > 0 && len(labels) == 0 {
				return fmt.Errorf("--subjects has no usable labels")
			}
			opts := pipeline.GroupOptions(cfg, labels, time.Now(), logger)
			if cfg.Paths.BaseFolder == "" {
				opts.DerivativesDir, opts.OutputDir = "", ""
			}
			if derivDir != "" {
				opts.DerivativesDir = derivDir
			}
			if outDir != "" {
				opts.OutputDir = outDir
			}
			if opts.DerivativesDir == "" || opts.OutputDir == "" {
				return fmt.Errorf("set paths.base_folder or pass both --mriqc-deriv and --out-dir")
			}
			if noOutliers {
				opts.Outliers = false
			}
			if cmd.Flags().Changed("z-thresh") {
				opts.ZThreshold = zThresh
			}
			if cmd.Flags().Changed("min-samples") {
				opts.MinSamples = minSamples
			}
			if opts.ZThreshold <= 0 {
				return fmt.Errorf("--z-thresh must be positive")
			}

			res, err := groupreport.Build(services.WithStage(cmd.Context(), "group"), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), groupreport.FormatResult(res))
			return nil
		},
	}

	cmd.Flags().StringVar(&derivDir, "mriqc-deriv", "", "MRIQC derivatives directory (default <base>/derivatives/mriqc)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Output directory for TSVs (default <base>/weekly_group_reports)")
	cmd.Flags().StringSliceVar(&subjects, "subjects", nil, "Participants to aggregate incrementally")
	cmd.Flags().BoolVar(&noOutliers, "no-outliers", false, "Skip z-score outlier columns")
	cmd.Flags().Float64Var(&zThresh, "z-thresh", 3.0, "Absolute z-score that marks an outlier")
	cmd.Flags().IntVar(&minSamples, "min-samples", 5, "Minimum non-missing values before a metric is flagged")
	return cmd
}

func newFiguresCommand(ctx *commandContext) *cobra.Command {
	var (
		date   string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "figures",
		Short: "Render box plots from the group TSVs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.validConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			day := time.Now()
			if strings.TrimSpace(date) != "" {
				parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), time.Local)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				day = parsed
			}
			opts := figures.OptionsFromConfig(cfg, day)
			opts.Logger = logger
			if outDir != "" {
				opts.OutDir = outDir
			}
			art, err := figures.Make(services.WithStage(cmd.Context(), "figures"), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(art.CIDToPath) == 0 {
				fmt.Fprintf(out, "No figures rendered; no TSV rows for %s in %s\n", day.Format("2006-01-02"), opts.OutDir)
				return nil
			}
			rows := make([][]string, 0, len(art.Panels))
			for _, panel := range art.Panels {
				path, ok := art.CIDToPath[panel.CID]
				if !ok {
					continue
				}
				rows = append(rows, []string{panel.Title(), fmt.Sprint(art.Counts[panel.CID]), path})
			}
			fmt.Fprintln(out, renderTable([]string{"Panel", "This week", "File"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft}))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Snapshot date to plot (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory holding the TSVs and receiving the PNGs")
	return cmd
}
