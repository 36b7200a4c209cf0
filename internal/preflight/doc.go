// Package preflight provides readiness checks for the filesystem paths and
// external tools the weekly QC run depends on.
//
// These checks run in two contexts:
//   - The pipeline calls RunAll before validating, so a missing BIDS folder
//     or a stopped Docker daemon fails fast instead of after the validator.
//   - The CLI "qcweekly doctor" command renders RunAll and CheckSystemDeps
//     as a table.
package preflight
