// Package pipeline sequences a weekly QC run: BIDS validation and its email,
// the operator prompt, the scan-presence audit, MRIQC for unprocessed
// participants, group aggregation, figures, and the HTML mini-report.
//
// A run holds an exclusive lock on the base folder, writes a per-run log file
// next to the console output, and records itself in the run history when that
// is enabled.
package pipeline
