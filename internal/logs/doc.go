// Package logs locates and tails qcweekly's log files: the per-run logs in
// paths.log_dir and the per-participant MRIQC captures in the base folder.
//
// Reads are bounded: Last keeps a ring of the requested lines and Follow
// polls from a byte offset, so large MRIQC stderr captures never load whole.
package logs
