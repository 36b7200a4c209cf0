package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeValidator()
	if err := c.normalizeMRIQC(); err != nil {
		return err
	}
	c.normalizeGroup()
	c.normalizeReport()
	c.normalizeEmail()
	c.normalizeLogging()
	return c.normalizeHistory()
}

func (c *Config) applyEnv() {
	if strings.TrimSpace(c.Paths.BidsFolder) == "" {
		if value, ok := os.LookupEnv("QCWEEKLY_BIDS_FOLDER"); ok {
			c.Paths.BidsFolder = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Paths.BaseFolder) == "" {
		if value, ok := os.LookupEnv("QCWEEKLY_BASE_FOLDER"); ok {
			c.Paths.BaseFolder = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Email.Sender) == "" {
		if value, ok := os.LookupEnv("QCWEEKLY_SENDER"); ok {
			c.Email.Sender = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.BidsFolder, err = expandPath(strings.TrimSpace(c.Paths.BidsFolder)); err != nil {
		return fmt.Errorf("paths.bids_folder: %w", err)
	}
	if c.Paths.BaseFolder, err = expandPath(strings.TrimSpace(c.Paths.BaseFolder)); err != nil {
		return fmt.Errorf("paths.base_folder: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeValidator() {
	c.Validator.Binary = strings.TrimSpace(c.Validator.Binary)
	if c.Validator.Binary == "" {
		c.Validator.Binary = defaultValidatorBinary
	}
	c.Validator.Package = strings.TrimSpace(c.Validator.Package)
	if c.Validator.Package == "" {
		c.Validator.Package = defaultValidatorPackage
	}
	c.Validator.Flags = strings.TrimSpace(c.Validator.Flags)
	if c.Validator.TimeoutSeconds < 0 {
		c.Validator.TimeoutSeconds = 0
	}
}

func (c *Config) normalizeMRIQC() error {
	c.MRIQC.Mode = strings.ToLower(strings.TrimSpace(c.MRIQC.Mode))
	if c.MRIQC.Mode == "" {
		c.MRIQC.Mode = defaultMRIQCMode
	}
	c.MRIQC.DockerBinary = strings.TrimSpace(c.MRIQC.DockerBinary)
	if c.MRIQC.DockerBinary == "" {
		c.MRIQC.DockerBinary = defaultDockerBinary
	}
	c.MRIQC.Image = strings.TrimSpace(c.MRIQC.Image)
	if c.MRIQC.Image == "" {
		c.MRIQC.Image = defaultMRIQCImage
	}
	var err error
	if c.MRIQC.Script, err = expandPath(strings.TrimSpace(c.MRIQC.Script)); err != nil {
		return fmt.Errorf("mriqc.script: %w", err)
	}
	if c.MRIQC.WorkDir, err = expandPath(strings.TrimSpace(c.MRIQC.WorkDir)); err != nil {
		return fmt.Errorf("mriqc.work_dir: %w", err)
	}
	args := make([]string, 0, len(c.MRIQC.ExtraArgs))
	for _, arg := range c.MRIQC.ExtraArgs {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	c.MRIQC.ExtraArgs = args
	if c.MRIQC.TimeoutSeconds < 0 {
		c.MRIQC.TimeoutSeconds = 0
	}
	if c.MRIQC.Retries < 0 {
		c.MRIQC.Retries = 0
	}
	return nil
}

func (c *Config) normalizeGroup() {
	if c.Group.ZThreshold == 0 {
		c.Group.ZThreshold = defaultZThreshold
	}
	if c.Group.MinSamples <= 0 {
		c.Group.MinSamples = defaultOutlierMinSamples
	}
}

func (c *Config) normalizeReport() {
	c.Report.T1Metrics = uniqueTrimmed(c.Report.T1Metrics)
	c.Report.BoldMetrics = uniqueTrimmed(c.Report.BoldMetrics)
	caser := cases.Title(language.English)
	tasks := make([]Task, 0, len(c.Report.Tasks))
	seen := make(map[string]struct{}, len(c.Report.Tasks))
	for _, task := range c.Report.Tasks {
		name := strings.ToLower(strings.TrimSpace(task.Name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		label := strings.TrimSpace(task.Label)
		if label == "" {
			label = caser.String(strings.ReplaceAll(name, "_", " "))
		}
		tasks = append(tasks, Task{Name: name, Label: label})
	}
	c.Report.Tasks = tasks
	if c.Report.DPI <= 0 {
		c.Report.DPI = defaultFigureDPI
	}
	if c.Report.PanelInches <= 0 {
		c.Report.PanelInches = defaultFigurePanelInches
	}
}

func (c *Config) normalizeEmail() {
	c.Email.Sender = strings.TrimSpace(c.Email.Sender)
	c.Email.Recipients = uniqueTrimmed(c.Email.Recipients)
	c.Email.SendmailBinary = strings.TrimSpace(c.Email.SendmailBinary)
	if c.Email.SendmailBinary == "" {
		c.Email.SendmailBinary = defaultSendmailBinary
	}
	c.Email.SubjectPrefix = strings.TrimSpace(c.Email.SubjectPrefix)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeHistory() error {
	var err error
	if c.History.Path, err = expandPath(strings.TrimSpace(c.History.Path)); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func uniqueTrimmed(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
