// Package deps checks that the external binaries qcweekly drives are
// installed.
package deps
