package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"qcweekly/internal/services/command"
)

const versionProbeTimeout = 10 * time.Second

// Requirement defines an external binary qcweekly shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// VersionArgs, when set, are passed to the binary to report its version.
	VersionArgs []string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Version     string
	Detail      string
}

// CheckBinaries resolves each requirement on PATH and, when VersionArgs are
// given, records the first line the binary prints. A failing version probe
// leaves the binary available.
func CheckBinaries(ctx context.Context, runner command.Executor, requirements []Requirement) []Status {
	if runner == nil {
		runner = command.Exec{}
	}
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		if len(req.VersionArgs) > 0 {
			status.Version, status.Detail = probeVersion(ctx, runner, path, req.VersionArgs)
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required (non-optional) dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}

func probeVersion(ctx context.Context, runner command.Executor, path string, args []string) (string, string) {
	res, err := runner.Run(ctx, command.Spec{Binary: path, Args: args, Timeout: versionProbeTimeout})
	if err != nil {
		return "", fmt.Sprintf("version probe failed: %v", err)
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		out = strings.TrimSpace(res.Stderr)
	}
	if line, _, ok := strings.Cut(out, "\n"); ok {
		out = line
	}
	if res.ExitCode != 0 {
		return strings.TrimSpace(out), fmt.Sprintf("version probe exited %d", res.ExitCode)
	}
	return strings.TrimSpace(out), ""
}
