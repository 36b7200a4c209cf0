package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qcweekly/internal/mailer"
	"qcweekly/internal/report"
)

func newTestEmailCommand(ctx *commandContext) *cobra.Command {
	var recipients []string

	cmd := &cobra.Command{
		Use:   "test-email",
		Short: "Send a test email through sendmail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ApplyOverrides("", "", recipients); err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			m, err := mailer.New(cfg, mailer.WithLogger(logger))
			if err != nil {
				return err
			}
			host, err := os.Hostname()
			if err != nil {
				host = "unknown host"
			}
			if err := m.SendPlain(cmd.Context(), report.TestSubject(cfg.Email.SubjectPrefix), report.TestBody(host, time.Now())); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test email sent to %s\n", strings.Join(cfg.Email.Recipients, ", "))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&recipients, "recipients", nil, "Recipients (overrides email.recipients)")
	return cmd
}
