package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"qcweekly/internal/cohort"
	"qcweekly/internal/console"
	"qcweekly/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		opts           pipeline.Options
		recipients     []string
		timeoutSeconds int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the weekly validation, MRIQC, and report pipeline",
		Long: `Validate the BIDS dataset and email the result, ask whether to continue,
audit scan presence, run MRIQC for every participant without output, aggregate
IQMs into group TSVs, render box plots, and email the mini-report.`,
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
			if timeoutSeconds < 0 {
				return fmt.Errorf("--timeout must be >= 0, got %d", timeoutSeconds)
			}
			opts.Recipients = recipients
			opts.Timeout = time.Duration(timeoutSeconds) * time.Second

			out := console.New(cmd.OutOrStdout(), cmd.InOrStdin())
			runner, err := pipeline.New(cfg, pipeline.WithLogger(logger), pipeline.WithConsole(out))
			if err != nil {
				return err
			}
			result, runErr := runner.Run(cmd.Context(), opts)
			if result.RunID != "" {
				printRunSummary(cmd.OutOrStdout(), result)
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVar(&recipients, "recipients", nil, "Email recipients (comma separated or repeated; overrides email.recipients)")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "Continue to MRIQC without prompting")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print MRIQC commands without running them")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Per-participant MRIQC timeout in seconds (0 uses mriqc.timeout_seconds)")
	cmd.Flags().BoolVar(&opts.SkipBidsVal, "skip-bids-val", false, "Skip BIDS validation and its email")
	cmd.Flags().BoolVar(&opts.EmailOnly, "email-only", false, "Only build figures from existing group TSVs and email the report")
	cmd.Flags().BoolVar(&opts.RerunGroup, "rerun-group", false, "With --email-only, rebuild every group TSV first")
	return cmd
}

func printRunSummary(w io.Writer, result pipeline.Result) {
	baseline, scan2 := cohort.Count(result.Targets)
	pairs := [][2]string{
		{"Run", result.RunID},
		{"Mode", string(result.Mode)},
	}
	if result.Validation != nil {
		pairs = append(pairs, [2]string{"Validator", string(result.Validation.Status)})
	}
	if result.Declined {
		pairs = append(pairs, [2]string{"Stopped", "declined at prompt"})
	}
	pairs = append(pairs,
		[2]string{"Targets", fmt.Sprintf("%d (baseline %d, scan2 %d)", len(result.Targets), baseline, scan2)},
		[2]string{"MRIQC ok", strconv.Itoa(result.MRIQC.OK)},
		[2]string{"MRIQC failed", strconv.Itoa(result.MRIQC.Failed)},
		[2]string{"Figures", strconv.Itoa(len(result.Figures.CIDToPath))},
		[2]string{"Report sent", yesNo(result.ReportSent)},
	)
	if result.RunLogPath != "" {
		pairs = append(pairs, [2]string{"Run log", result.RunLogPath})
	}
	fmt.Fprintln(w, renderKeyValues(pairs))
}
