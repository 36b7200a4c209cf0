package history

import (
	"time"

	"qcweekly/internal/services"
)

// Mode names what a run was asked to do.
type Mode string

const (
	ModeWeekly    Mode = "weekly"
	ModeEmailOnly Mode = "email_only"
	ModeMRIQC     Mode = "mriqc"
)

// StatusRunning marks a run that has not been finished.
const StatusRunning services.Outcome = "running"

// Run is one orchestrator invocation.
type Run struct {
	ID              string
	Mode            Mode
	BidsFolder      string
	BaseFolder      string
	StartedAt       time.Time
	FinishedAt      time.Time
	Status          services.Outcome
	Targets         int
	OK              int
	Failed          int
	ValidatorStatus string
	DryRun          bool
	ErrorMessage    string
}

// Running reports whether the run has not been finished.
func (r Run) Running() bool {
	return r.FinishedAt.IsZero()
}

// Duration is the wall time of a finished run.
func (r Run) Duration() time.Duration {
	if r.Running() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunSummary carries the counters written by FinishRun.
type RunSummary struct {
	Status          services.Outcome
	Targets         int
	OK              int
	Failed          int
	ValidatorStatus string
	Err             error
}

// SubjectRun is one participant's MRIQC invocation within a run.
type SubjectRun struct {
	ID         int64
	RunID      string
	Label      string
	Cohort     string
	Status     services.Outcome
	ExitCode   int
	Attempts   int
	Duration   time.Duration
	StdoutLog  string
	StderrLog  string
	Error      string
	RecordedAt time.Time
}
