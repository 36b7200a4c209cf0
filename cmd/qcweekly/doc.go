// Package main hosts the qcweekly CLI entrypoint and command graph.
//
// `qcweekly run` is the weekly orchestrator. Every stage it sequences is also
// exposed on its own (validate, presence, mriqc, group, figures) so a single
// step can be re-run by hand after a failure. Supporting commands inspect the
// run history, tail run and MRIQC logs, check the host with doctor, send a test
// email, and scaffold the configuration file.
//
// Keep this package thin: behaviour lives in internal/pipeline and the
// packages it composes; commands here parse flags, resolve configuration, and
// render results.
package main
