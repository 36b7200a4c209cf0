package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"qcweekly/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The BIDS folder exists but is empty; the base folder's output directories
// are created.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.BidsFolder = filepath.Join(base, "bids")
	cfgVal.Paths.BaseFolder = filepath.Join(base, "MRIQC")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Email.Sender = "qc@example.edu"
	cfgVal.Email.Recipients = []string{"pi@example.edu"}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := os.MkdirAll(builder.cfg.Paths.BidsFolder, 0o755); err != nil {
		t.Fatalf("mkdir bids folder: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithScriptMode switches MRIQC to the site-wrapper mode and writes a wrapper
// with the given shell body into the base folder.
func WithScriptMode(body string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.MRIQC.Mode = "script"
		script := filepath.Join(b.cfg.Paths.BaseFolder, "run_mriqc_local.sh")
		WriteText(b.t, script, "#!/bin/sh\n"+body+"\n")
	}
}

// WithHistoryDisabled turns off the SQLite run ledger.
func WithHistoryDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = false
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the external qcweekly binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"docker", "deno", "sendmail"}
		}
		stubs := make(map[string]string, len(names))
		for _, name := range names {
			stubs[name] = "exit 0"
		}
		installStubs(b.t, filepath.Join(b.baseDir, "bin"), stubs)
	}
}

// WithStubScript installs one stub executable with a custom shell body.
func WithStubScript(name, body string) ConfigOption {
	return func(b *configBuilder) {
		installStubs(b.t, filepath.Join(b.baseDir, "bin"), map[string]string{name: body})
	}
}

func installStubs(t testing.TB, binDir string, stubs map[string]string) {
	t.Helper()
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	for name, body := range stubs {
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}

	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.BaseFolder)
}
