// Package logging assembles structured slog loggers and formatting helpers used
// across qcweekly.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can automatically
// tag log lines with run IDs, stages, cohorts, and participant labels. Each
// weekly run also tees its output into a dated per-run file, pruned by
// CleanupOldLogs. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
