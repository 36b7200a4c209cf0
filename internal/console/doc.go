// Package console renders the operator-facing output of a weekly run: step
// banners, the continue prompt after validation, and a spinner while MRIQC
// works through a participant.
package console
