// Package figures renders the weekly box-plot PNGs embedded in the
// mini-report email.
package figures
