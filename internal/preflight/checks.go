package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"qcweekly/internal/config"
	"qcweekly/internal/deps"
	"qcweekly/internal/services/command"
)

const dockerInfoTimeout = 20 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is
// readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckDirectoryReadable verifies that the directory exists and can be listed.
// The BIDS folder is mounted read-only into MRIQC, so write access is not
// required.
func CheckDirectoryReadable(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "readable")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckScript verifies the site MRIQC wrapper exists and is a regular file.
func CheckScript(path string) Result {
	const name = "MRIQC script"
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if !info.Mode().IsRegular() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a regular file)", path)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckDockerDaemon verifies the Docker daemon answers `docker info`.
func CheckDockerDaemon(ctx context.Context, runner command.Executor, binary string) Result {
	const name = "Docker daemon"
	if runner == nil {
		runner = command.Exec{}
	}
	res, err := runner.Run(ctx, command.Spec{
		Binary:  binary,
		Args:    []string{"info", "--format", "{{.ServerVersion}}"},
		Timeout: dockerInfoTimeout,
	})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("docker info failed (%v)", err)}
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if line, _, ok := strings.Cut(detail, "\n"); ok {
			detail = line
		}
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return Result{Name: name, Detail: "not running: " + detail}
	}
	version := strings.TrimSpace(res.Stdout)
	if version == "" {
		version = "reachable"
	} else {
		version = "server " + version
	}
	return Result{Name: name, Passed: true, Detail: version}
}

// SystemRequirements lists the binaries the configured pipeline needs.
func SystemRequirements(cfg *config.Config) []deps.Requirement {
	reqs := []deps.Requirement{
		{
			Name:        "Deno",
			Command:     cfg.Validator.Binary,
			Description: "Runs the BIDS validator",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "sendmail",
			Command:     cfg.Email.SendmailBinary,
			Description: "Delivers validator and mini-report emails",
		},
	}
	if cfg.MRIQC.Mode == "script" {
		reqs = append(reqs, deps.Requirement{
			Name:        "bash",
			Command:     "bash",
			Description: "Runs the site MRIQC wrapper",
		}, deps.Requirement{
			Name:        "Docker",
			Command:     cfg.MRIQC.DockerBinary,
			Description: "Usually invoked by the site wrapper",
			Optional:    true,
		})
	} else {
		reqs = append(reqs, deps.Requirement{
			Name:        "Docker",
			Command:     cfg.MRIQC.DockerBinary,
			Description: "Runs the MRIQC container",
			VersionArgs: []string{"--version"},
		})
	}
	return reqs
}

// CheckSystemDeps evaluates all system-level dependencies for the given config.
func CheckSystemDeps(ctx context.Context, cfg *config.Config, runner command.Executor) []deps.Status {
	return deps.CheckBinaries(ctx, runner, SystemRequirements(cfg))
}
