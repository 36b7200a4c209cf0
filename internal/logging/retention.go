package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget selects files in Dir whose names match Pattern. Paths in
// Exclude are never removed, typically the log of the run doing the pruning.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs deletes target files last modified more than retentionDays
// ago and returns how many were removed. retentionDays <= 0 keeps everything.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed := 0
	for _, target := range targets {
		for _, path := range target.expired(cutoff) {
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "old log could not be removed", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check ownership of paths.log_dir"),
					String(FieldImpact, "the file stays on disk"),
				)
				continue
			}
			removed++
			logger.Debug("old log removed", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}

func (t RetentionTarget) expired(cutoff time.Time) []string {
	dir := strings.TrimSpace(t.Dir)
	if dir == "" {
		return nil
	}
	pattern := strings.TrimSpace(t.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil
	}
	keep := make(map[string]bool, len(t.Exclude))
	for _, path := range t.Exclude {
		keep[absPath(path)] = true
	}

	var out []string
	for _, match := range matches {
		path := absPath(match)
		if keep[path] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		out = append(out, path)
	}
	return out
}

func absPath(path string) string {
	if abs, err := filepath.Abs(strings.TrimSpace(path)); err == nil {
		return abs
	}
	return path
}
