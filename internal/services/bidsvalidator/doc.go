// Package bidsvalidator runs the BIDS validator through Deno and saves a
// dated transcript of its output.
package bidsvalidator
