// Package services defines shared utilities consumed by the pipeline stages
// and their external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, cohorts, and
//     participant labels for logging.
//   - Structured error markers plus the Wrap helper, and FailureOutcome which
//     translates failures into the outcomes recorded in run history.
//
// Subpackages wrap each external program (command execution, the BIDS
// validator, MRIQC, sendmail) behind small clients with injectable executors.
package services
