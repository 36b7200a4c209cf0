// Package testsupport builds throwaway configs, BIDS trees, MRIQC
// derivatives, and stub executables for package tests.
package testsupport
