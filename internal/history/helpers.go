package history

import (
	"database/sql"
	"strings"
	"time"

	"qcweekly/internal/services"
)

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run       Run
		mode      string
		started   string
		finished  sql.NullString
		status    string
		validator sql.NullString
		dryRun    int
		message   sql.NullString
	)
	if err := scanner.Scan(&run.ID, &mode, &run.BidsFolder, &run.BaseFolder, &started, &finished,
		&status, &run.Targets, &run.OK, &run.Failed, &validator, &dryRun, &message); err != nil {
		return Run{}, err
	}
	run.Mode = Mode(mode)
	run.Status = outcome(status)
	run.ValidatorStatus = validator.String
	run.DryRun = dryRun != 0
	run.ErrorMessage = message.String
	run.StartedAt, _ = parseTime(started)
	if finished.Valid {
		run.FinishedAt, _ = parseTime(finished.String)
	}
	return run, nil
}

func outcome(raw string) services.Outcome {
	return services.Outcome(strings.TrimSpace(raw))
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
