package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"qcweekly/internal/cohort"
	"qcweekly/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines   int
		follow  bool
		subject string
		stdout  bool
	)

	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "Show a run log or a participant's MRIQC output",
		Long: `Print the tail of the newest run log, or of the run given by id (a prefix of
at least eight characters works). With --subject, print the MRIQC stderr
capture for that participant instead (--stdout selects the stdout capture).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var path string
			switch {
			case strings.TrimSpace(subject) != "":
				if len(args) > 0 {
					return errors.New("pass either a run id or --subject, not both")
				}
				if cfg.Paths.BaseFolder == "" {
					return errors.New("paths.base_folder is required to locate MRIQC logs")
				}
				label := cohort.NormalizeLabel(subject)
				suffix := ".err.txt"
				if stdout {
					suffix = ".out.txt"
				}
				path = filepath.Join(cfg.MRIQCLogsDir(), "mriqc_"+label+suffix)
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("no MRIQC log for sub-%s: %w", label, err)
				}
			case len(args) == 1:
				path, err = logs.ForRun(cfg.Paths.LogDir, args[0])
			default:
				path, err = logs.Latest(cfg.Paths.LogDir, "qcweekly-*.log")
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "==> %s <==\n", path)
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, logs.DefaultPollInterval, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are appended")
	cmd.Flags().StringVar(&subject, "subject", "", "Show the MRIQC log for this participant")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "With --subject, show the stdout capture")
	return cmd
}
