package preflight

import (
	"context"

	"qcweekly/internal/config"
	"qcweekly/internal/services/command"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem and daemon checks for the given config.
// Binary availability is reported separately by CheckSystemDeps.
func RunAll(ctx context.Context, cfg *config.Config, runner command.Executor) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryReadable("BIDS folder", cfg.Paths.BidsFolder),
		CheckDirectoryAccess("Base folder", cfg.Paths.BaseFolder),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.MRIQC.Mode == "script" {
		results = append(results, CheckScript(cfg.MRIQCScript()))
	} else {
		results = append(results, CheckDockerDaemon(ctx, runner, cfg.MRIQC.DockerBinary))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
