// Package mriqc launches MRIQC for individual participants, either through
// the nipreps Docker image or a site wrapper script, and captures each
// participant's output under mriqc_local_logs.
package mriqc
