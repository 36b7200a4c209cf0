package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"qcweekly/internal/config"
)

// RunLogPattern matches the per-run log files written into the log directory.
const RunLogPattern = "qcweekly-*.log"

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := opts.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}
	outputWriter, err := openWriters(outputs, errOutputs)
	if err != nil {
		return nil, err
	}

	handler, err := newHandler(opts.Format, outputWriter, levelVar, opts.Development || level <= slog.LevelDebug)
	if err != nil {
		return nil, err
	}
	return slog.New(handler), nil
}

// NewFromConfig creates the terminal logger using application config defaults.
// Log lines go to stderr so stdout stays free for command output.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console", OutputPaths: []string{"stderr"}, ErrorOutputPaths: []string{"stderr"}})
	}
	return New(Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// RunLog is a per-run log file whose handler is teed alongside the console.
type RunLog struct {
	Path    string
	Handler slog.Handler
	file    *os.File
}

// RunLogName returns the file name used for a run started on day.
func RunLogName(day time.Time, runID string) string {
	short := strings.TrimSpace(runID)
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		short = "manual"
	}
	return fmt.Sprintf("qcweekly-%s-%s.log", day.Format("2006-01-02"), short)
}

// OpenRunLog creates the per-run log file inside dir. The file always records
// at debug level so a failed run can be reconstructed after the fact.
func OpenRunLog(dir string, day time.Time, runID, format string) (*RunLog, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("run log: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	path := filepath.Join(dir, RunLogName(day, runID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelDebug)
	handler, err := newHandler(format, file, levelVar, false)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &RunLog{Path: path, Handler: handler, file: file}, nil
}

// Close flushes and closes the run log file.
func (r *RunLog) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func newHandler(format string, w io.Writer, lvl *slog.LevelVar, addSource bool) (slog.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		return newConsoleHandler(w, lvl, addSource), nil
	case "json":
		return newJSONHandler(w, lvl, addSource)
	}
	return nil, fmt.Errorf("log format: unsupported value %q", format)
}

func parseLevel(level string) slog.Level {
	var lvl slog.Level
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	if lvl.UnmarshalText([]byte(name)) != nil {
		return slog.LevelInfo
	}
	return lvl
}

// openWriters opens each distinct destination once. "stdout" and "stderr"
// name the process streams; anything else is an append-mode file.
func openWriters(paths ...[]string) (io.Writer, error) {
	var writers []io.Writer
	seen := make(map[string]bool)
	for _, dest := range slices.Concat(paths...) {
		dest = strings.TrimSpace(dest)
		if dest == "" || seen[dest] {
			continue
		}
		seen[dest] = true
		w, err := openDestination(dest)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		return os.Stdout, nil
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openDestination(dest string) (io.Writer, error) {
	switch dest {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", dest, err)
	}
	return f, nil
}
