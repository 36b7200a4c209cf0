// Package presence audits a BIDS dataset for acquired scans and existing
// MRIQC outputs.
//
// Audit writes one presence CSV and one missing-scan report per cohort into
// the base folder. LoadCSV and MissingMRIQC read those trackers back to pick
// the participants that still need MRIQC.
package presence
