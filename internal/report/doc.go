// Package report renders the bodies and subjects of qcweekly emails.
package report
