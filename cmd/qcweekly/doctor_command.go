package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"qcweekly/internal/preflight"
	"qcweekly/internal/services/command"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, the Docker daemon, and folder access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			runner := command.Exec{}

			problems := 0
			lines := renderSectionHeader("Configuration", colorize)
			if err := cfg.Validate(); err != nil {
				lines = append(lines, renderStatusLine("Config", statusError, err.Error(), colorize))
				problems++
			} else {
				lines = append(lines, renderStatusLine("Config", statusOK, ctx.configPath, colorize))
			}
			if err := cfg.RequireMail(); err != nil {
				lines = append(lines, renderStatusLine("Email", statusWarn, err.Error(), colorize))
			} else {
				lines = append(lines, renderStatusLine("Email", statusOK, strings.Join(cfg.Email.Recipients, ", "), colorize))
			}

			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg, runner)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
			lines = append(lines, dependencyLines(statuses, colorize)...)

			checks := preflight.RunAll(cmd.Context(), cfg, runner)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Environment", colorize)...)
			lines = append(lines, checkLines(checks, colorize)...)

			fmt.Fprintln(out, strings.Join(lines, "\n"))

			for _, s := range statuses {
				if !s.Available && !s.Optional {
					problems++
				}
			}
			problems += len(preflight.Failed(checks))
			if problems > 0 {
				return fmt.Errorf("doctor found %d problem(s)", problems)
			}
			return nil
		},
	}
}
