package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMRIQC(); err != nil {
		return err
	}
	if err := c.validateGroup(); err != nil {
		return err
	}
	if err := c.validateReport(); err != nil {
		return err
	}
	return c.validateEmail()
}

func (c *Config) validatePaths() error {
	if c.Paths.BidsFolder == "" {
		return errors.New("paths.bids_folder is required (set it in the config file, QCWEEKLY_BIDS_FOLDER, or --bids-folder)")
	}
	if c.Paths.BaseFolder == "" {
		return errors.New("paths.base_folder is required (set it in the config file, QCWEEKLY_BASE_FOLDER, or --base-folder)")
	}
	if c.Paths.BidsFolder == c.Paths.BaseFolder {
		return errors.New("paths.base_folder must differ from paths.bids_folder")
	}
	return nil
}

func (c *Config) validateMRIQC() error {
	switch c.MRIQC.Mode {
	case "docker":
		if c.MRIQC.Image == "" {
			return errors.New("mriqc.image must be set when mriqc.mode is docker")
		}
		if c.MRIQC.NProcs < 0 {
			return errors.New("mriqc.n_procs must be >= 0")
		}
		if c.MRIQC.MemGB < 0 {
			return errors.New("mriqc.mem_gb must be >= 0")
		}
	case "script":
	default:
		return fmt.Errorf("mriqc.mode must be docker or script, got %q", c.MRIQC.Mode)
	}
	return nil
}

func (c *Config) validateGroup() error {
	if c.Group.ZThreshold < 0 {
		return errors.New("group.z_threshold must be positive")
	}
	if c.Group.MinSamples < 2 {
		return errors.New("group.min_samples must be at least 2")
	}
	return nil
}

func (c *Config) validateReport() error {
	if len(c.Report.T1Metrics) == 0 {
		return errors.New("report.t1_metrics must include at least one metric")
	}
	if len(c.Report.BoldMetrics) == 0 {
		return errors.New("report.bold_metrics must include at least one metric")
	}
	if len(c.Report.Tasks) == 0 {
		return errors.New("report.tasks must include at least one task")
	}
	return nil
}

func (c *Config) validateEmail() error {
	if c.Email.Sender != "" {
		if _, err := mail.ParseAddress(c.Email.Sender); err != nil {
			return fmt.Errorf("email.sender %q is not a valid address: %w", c.Email.Sender, err)
		}
	}
	for _, recipient := range c.Email.Recipients {
		if _, err := mail.ParseAddress(recipient); err != nil {
			return fmt.Errorf("email.recipients: %q is not a valid address: %w", recipient, err)
		}
	}
	if strings.ContainsAny(c.Email.SubjectPrefix, "\r\n") {
		return errors.New("email.subject_prefix must be a single line")
	}
	return nil
}

// RequireMail reports whether the config can send email.
func (c *Config) RequireMail() error {
	if c.Email.Sender == "" {
		return errors.New("email.sender is required to send mail (or set QCWEEKLY_SENDER)")
	}
	if len(c.Email.Recipients) == 0 {
		return errors.New("at least one recipient is required (email.recipients or --recipients)")
	}
	return nil
}
