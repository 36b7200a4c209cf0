package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing file error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigInitSkipsBrokenConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	broken := filepath.Join(home, "broken.toml")
	if err := os.WriteFile(broken, []byte("[paths\n"), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}

	target := filepath.Join(home, "fresh.toml")
	if _, _, err := runCLI(t, []string{"config", "init", "-p", target}, broken); err != nil {
		t.Fatalf("config init should not load the config: %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, broken); err == nil {
		t.Fatal("expected parse error from config validate")
	}
}

func TestConfigValidateReportsMissingFolders(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	out, _, err := runCLI(t, []string{"config", "validate"}, filepath.Join(home, "absent.toml"))
	if err == nil || !strings.Contains(err.Error(), "paths.bids_folder is required") {
		t.Fatalf("expected missing folder error, got %v", err)
	}
	requireContains(t, out, "defaults were used")
}

func TestFolderFlagsOverrideConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	other := filepath.Join(t.TempDir(), "other-bids")
	if err := os.MkdirAll(other, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	out, _, err := runCLI(t, []string{"--bids-folder", other, "doctor"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	requireContains(t, out, other+" (readable)")
}
