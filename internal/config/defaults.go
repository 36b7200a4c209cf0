package config

const (
	defaultLogDir             = "~/.local/share/qcweekly/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 60
	defaultValidatorBinary    = "deno"
	defaultValidatorPackage   = "jsr:@bids/validator"
	defaultValidatorFlags     = "-ERWN"
	defaultValidatorTimeout   = 1800
	defaultMRIQCMode          = "docker"
	defaultDockerBinary       = "docker"
	defaultMRIQCImage         = "nipreps/mriqc:24.0.2"
	defaultMRIQCNProcs        = 4
	defaultMRIQCMemGB         = 8
	defaultMRIQCRetries       = 1
	defaultZThreshold         = 3.0
	defaultOutlierMinSamples  = 5
	defaultFigureDPI          = 300
	defaultFigurePanelInches  = 4.0
	defaultSendmailBinary     = "sendmail"
	defaultEmailSubjectPrefix = "[MRIQC]"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir: defaultLogDir,
		},
		Validator: Validator{
			Binary:         defaultValidatorBinary,
			Package:        defaultValidatorPackage,
			Flags:          defaultValidatorFlags,
			TimeoutSeconds: defaultValidatorTimeout,
		},
		MRIQC: MRIQC{
			Mode:         defaultMRIQCMode,
			DockerBinary: defaultDockerBinary,
			Image:        defaultMRIQCImage,
			NProcs:       defaultMRIQCNProcs,
			MemGB:        defaultMRIQCMemGB,
			Retries:      defaultMRIQCRetries,
			RunAsUser:    true,
		},
		Group: Group{
			Outliers:   true,
			ZThreshold: defaultZThreshold,
			MinSamples: defaultOutlierMinSamples,
		},
		Report: Report{
			T1Metrics:   []string{"cjv", "cnr", "qi_2"},
			BoldMetrics: []string{"fd_mean", "snr", "dvars_nstd"},
			Tasks: []Task{
				{Name: "rest", Label: "Rest"},
				{Name: "ta", Label: "Think Aloud"},
			},
			DPI:         defaultFigureDPI,
			PanelInches: defaultFigurePanelInches,
		},
		Email: Email{
			SendmailBinary: defaultSendmailBinary,
			SubjectPrefix:  defaultEmailSubjectPrefix,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		History: History{
			Enabled: true,
		},
	}
}
