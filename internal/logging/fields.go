package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized structured logging key for weekly run identifiers.
	FieldRunID = "run_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldSubject is the standardized structured logging key for participant labels.
	FieldSubject = "subject"
	// FieldCohort is the standardized structured logging key for cohorts (baseline, scan2).
	FieldCohort = "cohort"
	// FieldEventType names the kind of event a line reports.
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldErrorDetailPath points at a file holding the full error transcript.
	FieldErrorDetailPath = "error_detail_path"
)
