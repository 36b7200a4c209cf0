// Package groupreport aggregates MRIQC image-quality-metric JSON files into
// per-cohort group TSVs.
//
// Each weekly run writes dated snapshots (<cohort>_<modality>_<date>.tsv)
// holding that week's subjects and maintains canonical full-sample sheets
// (<cohort>_<modality>.tsv) keyed by participant_id and file_name. Numeric
// metrics can be flagged as z-score outliers in outlier__<metric> columns.
package groupreport
