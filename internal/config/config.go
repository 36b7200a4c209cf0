package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the dataset and working directory locations.
type Paths struct {
	BidsFolder string `toml:"bids_folder"`
	BaseFolder string `toml:"base_folder"`
	LogDir     string `toml:"log_dir"`
}

// Validator contains configuration for the Deno-hosted BIDS validator.
type Validator struct {
	Binary         string `toml:"binary"`
	Package        string `toml:"package"`
	Flags          string `toml:"flags"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// MRIQC contains configuration for per-subject MRIQC invocations.
type MRIQC struct {
	// Mode is "docker" (run the container directly) or "script" (run a site wrapper with bash).
	Mode         string   `toml:"mode"`
	DockerBinary string   `toml:"docker_binary"`
	Image        string   `toml:"image"`
	Script       string   `toml:"script"`
	WorkDir      string   `toml:"work_dir"`
	NProcs       int      `toml:"n_procs"`
	MemGB        int      `toml:"mem_gb"`
	ExtraArgs    []string `toml:"extra_args"`
	RunAsUser    bool     `toml:"run_as_user"`
	// TimeoutSeconds bounds each subject; 0 disables the limit.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// Retries is the number of additional attempts after a non-zero exit.
	Retries int `toml:"retries"`
}

// Group contains configuration for IQM aggregation.
type Group struct {
	Outliers   bool    `toml:"outliers"`
	ZThreshold float64 `toml:"z_threshold"`
	MinSamples int     `toml:"min_samples"`
}

// Task maps a BIDS task entity to the label used in figures and emails.
type Task struct {
	Name  string `toml:"name"`
	Label string `toml:"label"`
}

// Report contains configuration for weekly figures.
type Report struct {
	T1Metrics   []string `toml:"t1_metrics"`
	BoldMetrics []string `toml:"bold_metrics"`
	Tasks       []Task   `toml:"tasks"`
	DPI         int      `toml:"dpi"`
	PanelInches float64  `toml:"panel_inches"`
}

// Email contains configuration for outbound mail through sendmail.
type Email struct {
	Sender         string   `toml:"sender"`
	Recipients     []string `toml:"recipients"`
	SendmailBinary string   `toml:"sendmail_binary"`
	SubjectPrefix  string   `toml:"subject_prefix"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// History contains configuration for the run ledger.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Config encapsulates all configuration values for qcweekly.
//
// Configuration sections by subsystem:
//   - Paths: BIDS dataset, MRIQC working folder, log directory
//   - Validator: BIDS validator invocation
//   - MRIQC: container or script invocation per subject
//   - Group: IQM aggregation and outlier flags
//   - Report: figure metrics and task panels
//   - Email: sendmail delivery
//   - Logging: log format, level, and retention
//   - History: SQLite run ledger
type Config struct {
	Paths     Paths     `toml:"paths"`
	Validator Validator `toml:"validator"`
	MRIQC     MRIQC     `toml:"mriqc"`
	Group     Group     `toml:"group"`
	Report    Report    `toml:"report"`
	Email     Email     `toml:"email"`
	Logging   Logging   `toml:"logging"`
	History   History   `toml:"history"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/qcweekly/config.toml")
}

// Load locates, parses, and normalizes a configuration file. Validation is
// left to the caller so command-line overrides can be applied first.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("qcweekly.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// ApplyOverrides sets folder and recipient values supplied on the command line
// and re-normalizes the affected paths.
func (c *Config) ApplyOverrides(bidsFolder, baseFolder string, recipients []string) error {
	if strings.TrimSpace(bidsFolder) != "" {
		c.Paths.BidsFolder = bidsFolder
	}
	if strings.TrimSpace(baseFolder) != "" {
		c.Paths.BaseFolder = baseFolder
	}
	if len(recipients) > 0 {
		c.Email.Recipients = recipients
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEmail()
	return nil
}

// EnsureDirectories creates the output directories the pipeline writes into.
// The BIDS folder is never created; it must already exist.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir}
	if strings.TrimSpace(c.Paths.BaseFolder) != "" {
		dirs = append(dirs, c.ValidatorOutputsDir(), c.MRIQCLogsDir(), c.WeeklyGroupReportsDir())
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ValidatorOutputsDir holds dated BIDS validator transcripts.
func (c *Config) ValidatorOutputsDir() string {
	return filepath.Join(c.Paths.BaseFolder, "validator_outputs")
}

// ScanPresenceCSV returns the presence tracker for the named cohort.
func (c *Config) ScanPresenceCSV(cohort string) string {
	return filepath.Join(c.Paths.BaseFolder, fmt.Sprintf("scan_presence_%s_qc.csv", cohort))
}

// MissingScansReport returns the human-readable missing-scan report for the named cohort.
func (c *Config) MissingScansReport(cohort string) string {
	return filepath.Join(c.Paths.BaseFolder, fmt.Sprintf("missing_scans_report_%s_qc.txt", cohort))
}

// MRIQCScript returns the site wrapper used in script mode.
func (c *Config) MRIQCScript() string {
	if strings.TrimSpace(c.MRIQC.Script) != "" {
		return c.MRIQC.Script
	}
	return filepath.Join(c.Paths.BaseFolder, "run_mriqc_local.sh")
}

// MRIQCLogsDir holds per-subject MRIQC stdout/stderr captures.
func (c *Config) MRIQCLogsDir() string {
	return filepath.Join(c.Paths.BaseFolder, "mriqc_local_logs")
}

// MRIQCDerivativesDir is where MRIQC writes IQM JSONs and HTML reports.
func (c *Config) MRIQCDerivativesDir() string {
	return filepath.Join(c.Paths.BaseFolder, "derivatives", "mriqc")
}

// MRIQCWorkDir is the scratch directory mounted into the container.
func (c *Config) MRIQCWorkDir() string {
	if strings.TrimSpace(c.MRIQC.WorkDir) != "" {
		return c.MRIQC.WorkDir
	}
	return filepath.Join(c.Paths.BaseFolder, "work")
}

// WeeklyGroupReportsDir holds group TSVs and figures.
func (c *Config) WeeklyGroupReportsDir() string {
	return filepath.Join(c.Paths.BaseFolder, "weekly_group_reports")
}

// LockPath is the file lock guarding one run per base folder.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.BaseFolder, ".qcweekly.lock")
}

// HistoryPath returns the run ledger location.
func (c *Config) HistoryPath() string {
	if strings.TrimSpace(c.History.Path) != "" {
		return c.History.Path
	}
	return filepath.Join(c.Paths.LogDir, "history.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// TaskLabel returns the display label for a BIDS task entity.
func (c *Config) TaskLabel(name string) string {
	for _, task := range c.Report.Tasks {
		if task.Name == name {
			return task.Label
		}
	}
	return ""
}
