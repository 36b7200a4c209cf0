package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"qcweekly/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent qcweekly runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				runs, err := store.RecentRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						shortID(run.ID),
						string(run.Mode),
						humanize.Time(run.StartedAt),
						runStatus(run),
						fmt.Sprint(run.Targets),
						fmt.Sprint(run.OK),
						fmt.Sprint(run.Failed),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Mode", "Started", "Status", "Targets", "OK", "Failed"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")

	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryPruneCommand(ctx))
	return historyCmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				run, err := findRun(cmd, store, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				pairs := [][2]string{
					{"Run", run.ID},
					{"Mode", string(run.Mode)},
					{"Status", runStatus(*run)},
					{"Started", run.StartedAt.Local().Format(time.DateTime)},
				}
				if !run.Running() {
					pairs = append(pairs, [2]string{"Duration", run.Duration().Round(time.Second).String()})
				}
				pairs = append(pairs,
					[2]string{"BIDS folder", run.BidsFolder},
					[2]string{"Base folder", run.BaseFolder},
					[2]string{"Targets", fmt.Sprint(run.Targets)},
					[2]string{"Dry run", yesNo(run.DryRun)},
				)
				if run.ValidatorStatus != "" {
					pairs = append(pairs, [2]string{"Validator", run.ValidatorStatus})
				}
				if run.ErrorMessage != "" {
					pairs = append(pairs, [2]string{"Error", run.ErrorMessage})
				}
				fmt.Fprintln(out, renderKeyValues(pairs))

				subjects, err := store.SubjectRuns(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if len(subjects) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(subjects))
				for _, sr := range subjects {
					rows = append(rows, []string{
						"sub-" + sr.Label,
						sr.Cohort,
						string(sr.Status),
						fmt.Sprint(sr.ExitCode),
						fmt.Sprint(sr.Attempts),
						sr.Duration.Round(time.Second).String(),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Participant", "Cohort", "Status", "Exit", "Attempts", "Duration"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--older-than-days must be >= 0")
			}
			return ctx.withHistory(func(store *history.Store) error {
				cutoff := time.Now().AddDate(0, 0, -days)
				removed, err := store.PruneBefore(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s) started before %s\n", removed, cutoff.Format(time.DateOnly))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 90, "Age in days beyond which runs are deleted")
	return cmd
}

func (c *commandContext) withHistory(fn func(*history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return errors.New("run history is disabled (history.enabled = false)")
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// findRun accepts a full run id or a unique prefix of a recent one.
func findRun(cmd *cobra.Command, store *history.Store, id string) (*history.Run, error) {
	run, err := store.GetRun(cmd.Context(), id)
	if err != nil || run != nil {
		return run, err
	}
	recent, err := store.RecentRuns(cmd.Context(), 200)
	if err != nil {
		return nil, err
	}
	var matches []history.Run
	for _, r := range recent {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run %q not found", id)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("run prefix %q is ambiguous (%d matches)", id, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runStatus(run history.Run) string {
	if run.Running() {
		return "running"
	}
	return string(run.Status)
}
