// Package history keeps a SQLite ledger of qcweekly runs and the per-subject
// MRIQC invocations inside them.
//
// The schema lives in embedded migrations applied on Open and tracked in
// schema_migrations.
package history
