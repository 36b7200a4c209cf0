// Package config loads, normalizes, and validates qcweekly configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// QCWEEKLY_BASE_FOLDER. The Config type also derives every working path the
// weekly pipeline touches (validator outputs, presence CSVs, MRIQC logs and
// derivatives, group reports) from the base folder so the layout lives in one
// place.
//
// Command-line flags are applied with ApplyOverrides before Validate runs.
package config
